package cache

import (
	"fmt"
	"path/filepath"
)

// Open 根据驱动名称构建对应的 Store，驱动名已在配置校验阶段标准化。
func Open(driver, basePath string) (Store, error) {
	switch driver {
	case "", "fs":
		return NewStore(basePath)
	case "leveldb":
		return NewLevelDBStore(filepath.Join(basePath, "leveldb"))
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/share-gate/share-gate/internal/config"
	"github.com/share-gate/share-gate/internal/logging"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("SHARE_GATE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "-check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" || !opts.checkOnly {
		t.Fatalf("flag 应高于环境变量，得到 %+v", opts)
	}

	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errBuf := useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(errBuf.String(), "BasePath") {
		t.Fatalf("错误输出应指出 BasePath，得到 %s", errBuf.String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	outBuf, _ := useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(outBuf.String(), "share-gate") {
		t.Fatalf("version 输出应包含 share-gate 标识")
	}
}

func TestLoggingFallbackToStdout(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "share-gate.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
StoragePath = "%s"
ListenPort = 5000

[[Site]]
Name = "share"
Domain = "share.local"
Origin = "http://127.0.0.1:3000"
BasePath = "/"
CacheVersion = "web-share-target-v1"
`, logPath, filepath.Join(dir, "storage")))

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, checkOnly: true})
	if code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
}

func TestGatewayServesInstalledShellOffline(t *testing.T) {
	for _, driver := range []string{config.StorageDriverFS, config.StorageDriverLevelDB} {
		t.Run(driver, func(t *testing.T) {
			origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/", "/index.html":
					w.Header().Set("Content-Type", "text/html")
					_, _ = io.WriteString(w, "<html>shell</html>")
				case "/app.js":
					_, _ = io.WriteString(w, "console.log(1)")
				default:
					http.NotFound(w, r)
				}
			}))
			defer origin.Close()

			configPath := writeConfigFile(t, fmt.Sprintf(`
ListenPort = 5000
StoragePath = "%s"
StorageDriver = "%s"

[[Site]]
Name = "share"
Domain = "share.local"
Origin = "%s"
BasePath = "/"
CacheVersion = "web-share-target-v1"
Assets = ["/", "/index.html", "/app.js"]
`, filepath.Join(t.TempDir(), "storage"), driver, origin.URL))

			cfg, err := config.Load(configPath)
			if err != nil {
				t.Fatalf("load config: %v", err)
			}
			gw, err := newGateway(cfg, logging.Discard())
			if err != nil {
				t.Fatalf("new gateway: %v", err)
			}
			defer gw.close()

			if err := gw.supervisor.RunAll(context.Background()); err != nil {
				t.Fatalf("lifecycle: %v", err)
			}
			origin.Close()

			req := httptest.NewRequest(http.MethodGet, "http://share.local/app.js", nil)
			resp, err := gw.app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK || string(body) != "console.log(1)" {
				t.Fatalf("installed asset should be served offline, got %d %q", resp.StatusCode, body)
			}

			req = httptest.NewRequest(http.MethodGet, "http://share.local/share-target/?title=Hello", nil)
			resp, err = gw.app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			body, _ = io.ReadAll(resp.Body)
			resp.Body.Close()
			if string(body) != "<html>shell</html>" {
				t.Fatalf("share target should resolve to cached shell, got %d %q", resp.StatusCode, body)
			}
			if len(gw.history.List("share")) != 1 {
				t.Fatalf("share should be recorded")
			}

			req = httptest.NewRequest(http.MethodGet, "http://share.local/-/sites/share", nil)
			resp, err = gw.app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			body, _ = io.ReadAll(resp.Body)
			resp.Body.Close()
			if !strings.Contains(string(body), `"state":"activated"`) {
				t.Fatalf("diagnostics should report activation, got %s", body)
			}
		})
	}
}

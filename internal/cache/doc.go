// Package cache owns the versioned response cache that sits between the
// share-target gateway and the application origin. A Store persists
// immutable response snapshots grouped into generations (site + version);
// the filesystem backend lays them out as StoragePath/<site>/<version>/...
// with temp-file + rename writes, the leveldb backend keeps them under
// prefixed keys in a single database. Manager implements the install /
// activate lifecycle on top of a Store and is the only type the request
// router talks to; WriteBack performs the router's fire-and-forget stores.
package cache

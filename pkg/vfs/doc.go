// Package vfs is the storage core of the system: a Virtual File System that
// unifies heterogeneous backing stores behind one POSIX-like namespace with
// per-task file-descriptor isolation, permission enforcement and device
// special files.
//
// The package defines the lexical Path type, the composite identifier
// algebra (file, filesystem, task-local and globally-unique identifiers),
// the error taxonomy, the FileSystem contract every backend implements, and
// the Router that multiplexes mounted backends, raw devices and pipes.
//
// # Usage
//
//	router := vfs.NewRouter(scheduler, authority)
//	if _, err := router.Mount("/", backend); err != nil {
//		log.Fatal(err)
//	}
//	file, err := router.Open("/file", vfs.ReadWrite|vfs.Create, taskID)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer router.Close(file, taskID)
package vfs

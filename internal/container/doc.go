// Package container stores named, typed, n-dimensional arrays in a
// self-describing file.
//
// A container is a single SQLite database. Arrays (datasets) live in named
// groups, carry string attributes, and are stored as little-endian blobs,
// optionally lz4 compressed. The schema is created by embedded migrations
// when a file is created, so every chunk file can be read on its own.
//
// Groups are implicit: a group exists once a dataset has been written to it.
package container

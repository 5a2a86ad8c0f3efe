// Package inttest enables writing of integration tests. Setup functions start Docker containers
// for dependencies like AWS S3 (using localstack) or an HTTP server around a Gin engine. Every setup
// function ensures the dependency is ready before returning, ensures resources are cleaned up after
// the tests are finished and returns a client ready to interact with it.
package inttest

// Package migrations provides SQL migration generation.
//
// To generate migrations, use the tokenstore-migrate-gen command:
//
//	go run github.com/tracklane/processor/cmd/tokenstore-migrate-gen -output migrations
//
// Or add a go generate directive to your code:
//
//	//go:generate go run github.com/tracklane/processor/cmd/tokenstore-migrate-gen -output ../../migrations
//
// Then run:
//
//	go generate ./...
package migrations

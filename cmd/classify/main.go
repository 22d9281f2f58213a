// Package main provides the classify command line tool.
//
// classify labels a single image with the configured image classification
// model and prints the top predictions.
//
// Usage:
//
//	classify photo.jpg
//	classify https://example.com/cat.jpg --format markdown
//
// See --help for all available options.
package main

func main() {
	Execute()
}

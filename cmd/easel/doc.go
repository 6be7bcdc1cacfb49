// Command easel is the CLI and daemon entrypoint for the blog image
// generation pipeline: queue management, inline and background generation,
// session inspection, and daemon lifecycle control.
package main

// Package imagegen wraps the external image generator executable.
//
// The generator contract is deliberately small: easel writes a JSON config
// artifact describing the prompts and article context, invokes the binary
// with the config path, an output directory, and a variation count, and
// treats exit status 0 plus at least one image file in the output directory
// as success. Everything else is a failure attributed to the tool.
//
// Command execution hides behind the Executor interface so tests can fake
// the subprocess without shelling out.
package imagegen

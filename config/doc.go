// Package config holds the service settings, the deployment manifest loader
// and the package type to template root table.
//
// Settings are populated once by the CLI entrypoint from flags and
// environment variables and are read-only afterwards, with the exception of
// the network mesh key which is loaded from disk after startup
// initialization and swapped in atomically.
//
// The template tree is laid out as follows:
//
//	{datapackage templates}/default/client-packages/...
//	{datapackage templates}/{addon}/client-packages/...
//	{datapackage templates}/default/environment-packages/...
//	{datapackage templates}/{addon}/environment-packages/...
//	{mission templates}/default/...
//	{mission templates}/{addon}/...
//	{vite asset templates}/{asset set}/...
//
// An addon folder named "default" or "na" disables the override tier.
package config

package common

const PackageName = "takrmapi"

// Version is overridden at build time with -ldflags "-X github.com/pvarki/takrmapi/common.Version=...".
var Version = "dev"

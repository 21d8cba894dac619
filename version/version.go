package version

// Version is overridden at build time with -ldflags "-X ...version.Version=<v>"
var Version = "0.1.0"

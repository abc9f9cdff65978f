package version

// Version is overridden at build time with -ldflags "-X driftwatch/version.Version=...".
var Version = "dev"

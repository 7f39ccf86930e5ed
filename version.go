package hsmx

// Version is the module version, overridable at link time with
// -ldflags "-X github.com/comalice/hsmx.Version=...".
var Version = "0.1.0-dev"

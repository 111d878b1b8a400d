package version

// Version is the current version of tastecast.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/bourbonbuddy/tastecast/internal/version.Version=v1.0.0'"
var Version = "dev"

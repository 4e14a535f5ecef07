package config

// AppIdentity names the binary, its environment variable prefix and its
// configuration directory.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity of the tunegrab binary.
var DefaultIdentity = AppIdentity{
	BinaryName: "tunegrab",
	EnvPrefix:  "TUNEGRAB_",
	ConfigName: "tunegrab",
}

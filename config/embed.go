// Package config carries the deployment table compiled into the binary.
package config

import _ "embed"

//go:embed deployments.yaml
var Deployments []byte

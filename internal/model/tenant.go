package model

import "time"

// Tenant is the single principal allowed to call the controller's data
// operations.
type Tenant struct {
	ID           string
	RegisteredAt time.Time
}

// ProvisioningPackage is the opaque artifact handed to every newly
// provisioned shard.
type ProvisioningPackage struct {
	Data     []byte
	Digest   string
	LoadedAt time.Time
}

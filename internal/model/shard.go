package model

import "time"

// ShardNode records where a provisioned shard is reachable. Address is empty
// for shards hosted in the controller process.
type ShardNode struct {
	ShardID   string
	Address   string
	CreatedAt time.Time
}

// ShardInitArgs is the configuration a shard receives when provisioned.
type ShardInitArgs struct {
	ControllerID  string `json:"controller_id"`
	CapacityBytes int64  `json:"capacity_bytes"`
	PackageDigest string `json:"package_digest"`
}

// Utilization is a shard's live storage usage.
type Utilization struct {
	UsedBytes     int64 `json:"used_bytes"`
	CapacityBytes int64 `json:"capacity_bytes"`
	FileCount     int64 `json:"file_count"`
}

// PoolMember is an idle or claimed shard process advertised to the
// controller.
type PoolMember struct {
	ShardID string `json:"shard_id"`
	Address string `json:"address"`
	Claimed bool   `json:"claimed"`
}

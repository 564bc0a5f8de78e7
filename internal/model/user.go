package model

// UserRecord tracks which shards hold a user's data. ShardIDs is append-only
// and FullShardIDs is a monotonic subset of it.
type UserRecord struct {
	UserID       string
	ShardIDs     []string
	FullShardIDs []string
}

// HasShard reports whether shardID is assigned to the user.
func (u *UserRecord) HasShard(shardID string) bool {
	for _, id := range u.ShardIDs {
		if id == shardID {
			return true
		}
	}
	return false
}

// IsFull reports whether shardID has been marked full.
func (u *UserRecord) IsFull(shardID string) bool {
	for _, id := range u.FullShardIDs {
		if id == shardID {
			return true
		}
	}
	return false
}

// MarkFull flags shardID as no longer accepting placements. It returns false
// if the shard is unknown to the user or already marked.
func (u *UserRecord) MarkFull(shardID string) bool {
	if !u.HasShard(shardID) || u.IsFull(shardID) {
		return false
	}
	u.FullShardIDs = append(u.FullShardIDs, shardID)
	return true
}

// Candidates returns ShardIDs minus FullShardIDs, in assignment order.
func (u *UserRecord) Candidates() []string {
	out := make([]string, 0, len(u.ShardIDs))
	for _, id := range u.ShardIDs {
		if !u.IsFull(id) {
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy, so cached records are never mutated in place.
func (u *UserRecord) Clone() *UserRecord {
	return &UserRecord{
		UserID:       u.UserID,
		ShardIDs:     append([]string(nil), u.ShardIDs...),
		FullShardIDs: append([]string(nil), u.FullShardIDs...),
	}
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserRecordFullMarking(t *testing.T) {
	u := &UserRecord{UserID: "alice", ShardIDs: []string{"s1", "s2", "s3"}}

	assert.True(t, u.MarkFull("s2"))
	assert.False(t, u.MarkFull("s2"), "marking is idempotent")
	assert.False(t, u.MarkFull("s9"), "unknown shard cannot be marked")

	assert.Equal(t, []string{"s1", "s3"}, u.Candidates())
	assert.True(t, u.IsFull("s2"))
	assert.True(t, u.HasShard("s3"))
}

func TestUserRecordClone(t *testing.T) {
	u := &UserRecord{UserID: "alice", ShardIDs: []string{"s1"}}
	c := u.Clone()
	c.ShardIDs = append(c.ShardIDs, "s2")
	c.MarkFull("s1")

	assert.Equal(t, []string{"s1"}, u.ShardIDs)
	assert.Empty(t, u.FullShardIDs)
}

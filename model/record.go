package model

// PrimaryKey is the user-facing stable vector id.
type PrimaryKey uint64

// Record is a single vector insert, as it flows Engine -> WAL -> MemBuffer.
type Record struct {
	PK     PrimaryKey
	Vector []float32
}

// Batch is a set of records inserted together, plus the partition they
// target (empty for the root collection).
type Batch struct {
	CollectionID string
	PartitionTag string
	Records      []Record
	LSN          LSN
}

// DeleteBatch is a tombstone request: a set of ids to soft-delete at a
// given LSN against a collection's blacklist.
type DeleteBatch struct {
	CollectionID string
	IDs          []PrimaryKey
	LSN          LSN
}

// Candidate is a scored hit produced by a SearchKernel call, before
// cross-segment top-K merge.
type Candidate struct {
	PK       PrimaryKey
	Score    float32
	SegmentID SegmentID
}

// QueryRequest controls the execution of a top-K similarity search.
type QueryRequest struct {
	CollectionID  string
	PartitionTags []string
	K             int
	NProbe        int
	Vectors       [][]float32
	FileIDs       []SegmentID // non-nil restricts dispatch to these segments (queryByFileId)
}

// QueryResult holds the merged top-K candidates for one query vector.
type QueryResult struct {
	Candidates []Candidate
}

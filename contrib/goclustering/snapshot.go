package goclustering

type Member struct {
	MemberID string
	MetaData []byte
}

// Snapshot is the membership of the cluster at a revision.  Revisions of
// snapshots from the same provider compare with revisionarr.Compare.
type Snapshot struct {
	Revision []uint64
	Members  []*Member
}

package relay

// DefaultNodes is the built-in relay set used when no node list is
// configured. All entries are Matrix homeservers federated with each
// other, so any pair of peers converging on different entries can still
// reach one another.
var DefaultNodes = []string{
	"beacon-node-1.sky.papers.tech",
	"beacon-node-0.papers.tech",
	"beacon-node-2.sky.papers.tech",
}

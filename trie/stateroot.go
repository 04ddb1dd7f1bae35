package trie

import "github.com/nibblestore/paged/page"

// StateRootPage and MerkleStateRootPage are the fixed 256-bucket (16x16)
// fan-outs anchoring each of the root's top-level account_pages slots
// (§4.5, §4.7). Layout-wise they are exactly a DataPage / MerkleFanOutPage
// respectively; what distinguishes them is that nothing ever promotes a
// leaf into one; they are allocated directly as the first page under an
// account_pages slot and live for the life of that slot.
func InitStateRootPage(p *page.Page)       { InitDataPage(p) }
func InitMerkleStateRootPage(p *page.Page) { InitMerkleFanOutPage(p) }

package fixup

import (
	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
	"github.com/marijnvdwerf/asm-processor/internal/relocation"
)

// SpliceRegion is the relocation.RegionPlaceable wrapper spliceSectionData
// uses to detect two stub symbols claiming overlapping byte ranges in the
// same section — a corrupt compiler object the splice should refuse rather
// than silently mis-copy.
type SpliceRegion struct {
	offset uint64
	size   uint64
	name   string
}

func (s *SpliceRegion) Offset() uint64     { return s.offset }
func (s *SpliceRegion) SetOffset(o uint64) { s.offset = o }
func (s *SpliceRegion) Size() uint64       { return s.size }
func (s *SpliceRegion) Alignment() uint64  { return 1 }

// claimSpliceRange records that [offset, offset+count) in region belongs to
// name, failing if it overlaps a range already claimed by another stub
// symbol in the same section. Passing a degenerate offsetRange of exactly
// [offset, offset+count-1] makes Place place the entry there-or-nowhere,
// turning its gap search into a pure overlap check.
func claimSpliceRange(region *relocation.Region[*SpliceRegion], name string, offset, count uint32) error {
	if count == 0 {
		return nil
	}
	entry := &SpliceRegion{size: uint64(count), name: name}
	ok, _ := region.Place(entry, []uint64{uint64(offset), uint64(offset) + uint64(count) - 1}, false)
	if !ok {
		return asmerr.Newf(asmerr.AsmSizeMismatch, "", 0,
			"stub symbol %q at offset %d..%d overlaps another stub's reserved bytes", name, offset, offset+count)
	}
	return nil
}

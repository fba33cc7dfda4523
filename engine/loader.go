package engine

import (
	"fmt"
	"os"
)

// availableIndexFiles probes zdb-index-NNNNN names starting at 0 until one
// does not exist, returning the count — spec.md §4.4's availability scan.
func availableIndexFiles(dir string) uint16 {
	var id uint16
	for {
		if !fileExists(indexFileName(dir, id)) {
			return id
		}
		if id == ^uint16(0) {
			return id
		}
		id++
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// loadNamespace replays every existing index file from id 0 upward into
// ns.mem, reproducing exactly the bucket/parent-chain/statistics state that
// live writes would have produced (spec.md §4.4).
func loadNamespace(ns *Namespace) error {
	maxFile := availableIndexFiles(ns.indexDir)

	if maxFile == 0 {
		if err := loadOneIndexFile(ns, 0, true); err != nil {
			return err
		}
	} else {
		for fileID := uint16(0); fileID < maxFile; fileID++ {
			if err := loadOneIndexFile(ns, fileID, false); err != nil {
				ns.logger.WithError(err).Warn("index: load degraded, stopping replay")
				ns.Degraded = true
				break
			}
		}
	}

	if ns.Mode == ModeSequential && len(ns.seq.entries) == 0 {
		ns.seq.push(0, 0)
	}

	// open the active (highest-id) files in append mode for subsequent writes.
	highest := ns.index.fileID
	if _, err := ns.index.openIndexFile(highest, true); err != nil {
		return fmt.Errorf("opening active index file: %w", err)
	}
	if err := ns.data.openDataFile(highest, true); err != nil {
		return fmt.Errorf("opening active data file: %w", err)
	}

	return nil
}

// loadOneIndexFile opens, validates, and replays a single index file into
// ns.mem. create permits creating file 0 when the directory is empty.
func loadOneIndexFile(ns *Namespace, fileID uint16, create bool) error {
	ns.index.previous = 0
	created, err := ns.index.openIndexFile(fileID, create)
	if err != nil {
		return err
	}
	defer ns.index.close()

	if created {
		return nil
	}

	header, err := ns.index.loadHeader()
	if err != nil {
		if fileID == 0 {
			return fmt.Errorf("index file 0: %w", err)
		}
		return err
	}
	_ = header

	offset := uint32(indexHeaderLen)
	firstInFile := true

	for {
		it, err := ns.index.readItem(fileID, offset)
		if err != nil {
			break // clean EOF or a short read: stop replaying this file
		}

		if ns.Mode == ModeSequential && firstInFile {
			ns.seq.push(uint32(ns.mem.nextEntry), fileID)
		}
		firstInFile = false

		replayEntry(ns, fileID, offset, it)
		ns.index.previous = offset

		offset += uint32(indexEntryHdrLen) + uint32(it.KeyLength)
	}

	return nil
}

// replayEntry inserts it as if it had just been written live, then, if it
// is flagged deleted, immediately replays the deletion — this two-step
// dance (never "skip deleted entries") is required so statistics and
// parent-chain pointers match what live writes would have produced
// (spec.md §4.4 step 5).
func replayEntry(ns *Namespace, fileID uint16, offset uint32, it indexItem) {
	fresh := indexEntry{
		Key: it.Key, Offset: it.Offset, Length: it.Length,
		DataID: it.DataID, IndexID: fileID, IdxOffset: offset,
		Flags: 0, CRC: it.CRC, Timestamp: it.Timestamp,
		ParentID: it.ParentID, ParentOff: it.ParentOff,
	}

	if ns.Mode == ModeSequential {
		// sequential mode keeps no per-key memory record; only statistics.
		ns.mem.nextEntry++
		ns.mem.nextID++
		if !it.Flags.has(FlagDeleted) {
			ns.mem.entries++
			ns.mem.datasize += uint64(it.Length)
		}
		return
	}

	if existing := ns.mem.lookup(it.Key); existing != nil {
		ns.mem.update(existing, fresh)
		if it.Flags.has(FlagDeleted) {
			existing.Flags |= FlagDeleted
			ns.mem.deleteFromMemory(existing)
		}
		return
	}

	ns.mem.insert(&fresh)
	if it.Flags.has(FlagDeleted) {
		fresh.Flags |= FlagDeleted
		ns.mem.deleteFromMemory(&fresh)
	}
}

// Command diag-lsm inspects and manipulates an lsmforest database file
// directly, bypassing the automerge workers. It is the tool used to
// generate test fixtures (add-numbers, add-random), to watch the
// engine's internal state (list-segments, list-free-blocks, show-page),
// and to drive merges by hand (merge).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/arjunvaid/lsmforest/internal/lsm/manager"
	"github.com/arjunvaid/lsmforest/internal/lsm/page"
	"github.com/arjunvaid/lsmforest/pkg/lsmforest"
	"github.com/arjunvaid/lsmforest/pkg/options"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "diag-lsm:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: diag-lsm <database-file> <command> [args...]")
	}
	path := args[0]
	command := args[1]
	rest := args[2:]

	switch command {
	case "add-numbers":
		return cmdAddNumbers(path, rest)
	case "add-random":
		return cmdAddRandom(path, rest)
	case "list-keys":
		return cmdListKeys(path)
	case "list-segments":
		return cmdListSegments(path)
	case "list-free-blocks":
		return cmdListFreeBlocks(path)
	case "seek-string":
		return cmdSeek(path, rest, false)
	case "seek-bytes":
		return cmdSeek(path, rest, true)
	case "show-page":
		return cmdShowPage(path, rest)
	case "show-leaf-page":
		return cmdShowLeafPage(path, rest)
	case "show-parent-page":
		return cmdShowParentPage(path, rest)
	case "merge":
		return cmdMerge(path, rest)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func openNoAutomerge(path string) (*lsmforest.Instance, error) {
	dir, file := splitPath(path)
	return lsmforest.Open(context.Background(),
		options.WithDataDir(dir),
		options.WithFileName(file),
		options.WithAutomergeEnabled(false),
	)
}

func splitPath(path string) (dir, file string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return ".", path
}

func cmdAddNumbers(path string, args []string) error {
	fs := flag.NewFlagSet("add-numbers", flag.ExitOnError)
	count := fs.Uint64("count", 100, "number of keys to write")
	start := fs.Uint64("start", 0, "first numeric value")
	step := fs.Uint64("step", 1, "increment between keys")
	if err := fs.Parse(args); err != nil {
		return err
	}

	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	pairs := make([]lsmforest.Pair, 0, *count)
	for i := uint64(0); i < *count; i++ {
		val := *start + i**step
		key := fmt.Sprintf("%08d", val)
		pairs = append(pairs, lsmforest.Pair{Key: []byte(key), Value: []byte(fmt.Sprintf("%d", val))})
	}

	segnum, err := inst.WriteSegment(pairs, 0)
	if err != nil {
		return err
	}
	fmt.Printf("wrote segment %d with %d pairs\n", segnum, len(pairs))
	return nil
}

func cmdAddRandom(path string, args []string) error {
	fs := flag.NewFlagSet("add-random", flag.ExitOnError)
	count := fs.Uint64("count", 100, "number of keys to write")
	seed := fs.Int64("seed", 1, "random seed")
	keyLen := fs.Int("key-len", 16, "maximum key length")
	valLen := fs.Int("value-len", 64, "maximum value length")
	if err := fs.Parse(args); err != nil {
		return err
	}

	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	rng := rand.New(rand.NewSource(*seed))
	seen := make(map[string]bool)
	pairs := make([]lsmforest.Pair, 0, *count)
	for uint64(len(pairs)) < *count {
		k := randomBytes(rng, *keyLen)
		if seen[string(k)] {
			continue
		}
		seen[string(k)] = true
		v := randomBytes(rng, *valLen)
		pairs = append(pairs, lsmforest.Pair{Key: k, Value: v})
	}
	sortPairs(pairs)

	segnum, err := inst.WriteSegment(pairs, 0)
	if err != nil {
		return err
	}
	fmt.Printf("wrote segment %d with %d pairs\n", segnum, len(pairs))
	return nil
}

func randomBytes(rng *rand.Rand, maxLen int) []byte {
	n := rng.Intn(maxLen) + 1
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func sortPairs(pairs []lsmforest.Pair) {
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && string(pairs[j].Key) < string(pairs[j-1].Key); j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
}

func cmdListKeys(path string) error {
	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	c, release, err := inst.OpenCursor()
	if err != nil {
		return err
	}
	defer release()

	if err := c.First(); err != nil {
		return err
	}
	for c.IsValid() {
		v, err := c.Value()
		if err != nil {
			return err
		}
		fmt.Printf("k: %q v: %q\n", c.Key(), v)
		if err := c.Next(); err != nil {
			return err
		}
	}
	return nil
}

func cmdListSegments(path string) error {
	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	segments := inst.ListSegments()
	fmt.Printf("segments (%d):\n", len(segments))
	for _, segnum := range segments {
		info, ok := inst.SegmentInfo(segnum)
		if !ok {
			continue
		}
		fmt.Printf("  %d: level %d, root page %d, %d pages\n",
			segnum, info.Level, info.RootPage, info.Blocks.CountPages())
	}
	return nil
}

func cmdListFreeBlocks(path string) error {
	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	blocks := inst.ListFreeBlocks()
	fmt.Printf("free blocks (%d), %d pages total\n", blocks.Len(), blocks.CountPages())
	for _, blk := range blocks.Blocks() {
		fmt.Printf("  [%d, %d]\n", blk.First, blk.Last)
	}
	return nil
}

func cmdSeek(path string, args []string, raw bool) error {
	fs := flag.NewFlagSet("seek", flag.ExitOnError)
	op := fs.String("op", "eq", "eq, le, or ge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("seek requires a key argument")
	}
	key := []byte(fs.Arg(0))

	var sop lsmforest.SeekOp
	switch *op {
	case "eq":
		sop = lsmforest.SeekEQ
	case "le":
		sop = lsmforest.SeekLE
	case "ge":
		sop = lsmforest.SeekGE
	default:
		return fmt.Errorf("invalid seek op %q", *op)
	}
	_ = raw

	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	c, release, err := inst.OpenCursor()
	if err != nil {
		return err
	}
	defer release()

	res, err := c.Seek(key, sop)
	if err != nil {
		return err
	}
	fmt.Printf("seek result: %d\n", res)
	if c.IsValid() {
		v, err := c.Value()
		if err != nil {
			return err
		}
		fmt.Printf("k: %q v: %q\n", c.Key(), v)
	}
	return nil
}

func cmdShowPage(path string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("show-page requires a page number")
	}
	pg, err := parsePageArg(args[0])
	if err != nil {
		return err
	}

	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	raw, err := inst.GetPage(pg)
	if err != nil {
		return err
	}
	typ, err := page.ReadType(pg, raw)
	if err != nil {
		return err
	}
	fmt.Printf("page %d: type %d, %d bytes\n", pg, typ, len(raw))
	return nil
}

func cmdShowLeafPage(path string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("show-leaf-page requires a page number")
	}
	pg, err := parsePageArg(args[0])
	if err != nil {
		return err
	}

	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	raw, err := inst.GetPage(pg)
	if err != nil {
		return err
	}
	entries, err := page.DecodeLeaf(pg, raw)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Tombstone {
			fmt.Printf("k: %q (tombstone)\n", e.Key)
		} else {
			fmt.Printf("k: %q v-inline-len: %d\n", e.Key, len(e.Value))
		}
	}
	return nil
}

func cmdShowParentPage(path string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("show-parent-page requires a page number")
	}
	pg, err := parsePageArg(args[0])
	if err != nil {
		return err
	}

	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	raw, err := inst.GetPage(pg)
	if err != nil {
		return err
	}
	children, err := page.DecodeParent(pg, raw)
	if err != nil {
		return err
	}
	fmt.Printf("items (%d):\n", len(children))
	for _, c := range children {
		fmt.Printf("  page %d, first key %q\n", c.Page, c.FirstKey)
	}
	return nil
}

func parsePageArg(s string) (uint32, error) {
	var pg uint32
	if _, err := fmt.Sscanf(s, "%d", &pg); err != nil {
		return 0, fmt.Errorf("invalid page number %q", s)
	}
	return pg, nil
}

func cmdMerge(path string, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	level := fs.Uint("level", 0, "level to merge")
	minSegs := fs.Int("min-segments", 2, "minimum segments to merge")
	maxSegs := fs.Int("max-segments", 8, "maximum segments to merge")
	promote := fs.Bool("promote", true, "promote the merged segment to the next level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	inst, err := openNoAutomerge(path)
	if err != nil {
		return err
	}
	defer inst.Close()

	rule := manager.PromotionRule{Kind: manager.PromotionStay}
	if *promote {
		rule = manager.PromotionRule{Kind: manager.PromotionPromote}
	}

	merged, err := inst.Merge(uint32(*level), *minSegs, *maxSegs, rule)
	if err != nil {
		return err
	}
	if !merged {
		fmt.Println("no qualifying segments to merge")
		return nil
	}
	fmt.Println("merge committed")
	return nil
}

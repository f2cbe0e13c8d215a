// Package chainfs is a small reference storage engine. It lays a hierarchical
// filesystem out on a block device as chains of blocks, in the style of FAT:
//
//	block 0                 superblock
//	blocks 1 .. T           allocation table, one little-endian uint32 per block
//	block T+1               first block of the root directory
//	everything else         directory and file data
//
// Each table entry holds the index of the next block in the chain, or one of
// the markers for "free", "end of chain" and "reserved". Directories are
// chains of fixed-size 64-byte records; files are chains of raw data blocks
// whose length is recorded in the parent directory.
//
// Free blocks are found with a lookahead window: a bitmap covering
// Config.Lookahead consecutive blocks, rebuilt from the table whenever it is
// exhausted.
//
// chainfs does no wear-leveling and makes no attempt to survive power loss.
// It exists so the session layer can be exercised end to end, and as a
// template for wrapping a native engine.
package chainfs

// Package imagefile saves and loads simulated flash devices as image files.
//
// An image is a 32-byte header followed by the device contents, optionally
// compressed. The header records the device geometry, the erase value, the
// codec used for the payload, and a CRC32 of the uncompressed contents.
//
// Flash images are dominated by erased space: every block that was never
// programmed reads back as 0xff. The rle8 codec exploits this the same way the
// BMP format does. If a byte B occurs N times where N >= 2, B is written twice,
// followed by a third (unsigned) byte giving how many additional times B
// occurred:
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
//
// Runs longer than 257 bytes are split, so a run of 300 "X" becomes
// `XX 255 XX 41`. The result is then gzipped. The zstd and lz4 codecs compress
// the raw contents directly and are faster on images that are mostly full.
package imagefile

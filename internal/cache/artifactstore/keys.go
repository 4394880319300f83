package artifactstore

import "strconv"

// Key layout for a base key K with history entries:
//
//	K                 latest payload
//	K:i               payload at integer index i
//	K:i:chunks        chunk count, present iff chunked
//	K:i:chunk:j       one chunk of the serialized points array
//	K:i:meta          payload without points, present iff points were split out
//	K:current_index   next integer index
//	K:indices         JSON array of IndexEntry

func indexedKey(base string, i int) string { return base + ":" + strconv.Itoa(i) }

func chunksKey(key string) string { return key + ":chunks" }

func chunkKey(key string, j int) string { return key + ":chunk:" + strconv.Itoa(j) }

func metaKey(key string) string { return key + ":meta" }

func currentIndexKey(base string) string { return base + ":current_index" }

func indicesKey(base string) string { return base + ":indices" }

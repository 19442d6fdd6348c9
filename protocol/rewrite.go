package protocol

import "strconv"

// RewriteSetReply normalizes the in-batch reply of a conditional SET (NX/XX).
//
// A direct call answers "not set" with a null bulk string. Inside a batch the same
// condition can surface as a null array or an empty array (EXEC element), so every
// null-like marker becomes KindNil. An OK status is left alone.
func RewriteSetReply(r *Reply) {
	if r == nil {
		return
	}
	switch r.Kind {
	case KindNil:
		r.Elems = nil
	case KindArray:
		if len(r.Elems) == 0 {
			*r = Reply{Kind: KindNil}
		}
	}
}

// RewriteGeoRadiusStoreReply normalizes the in-batch reply of GEORADIUS[BYMEMBER]
// with STORE/STOREDIST to the integer count a direct call returns.
func RewriteGeoRadiusStoreReply(r *Reply) {
	if r == nil {
		return
	}
	switch r.Kind {
	case KindInteger, KindError:
	case KindNil:
		*r = Reply{Kind: KindInteger}
	case KindArray:
		*r = Reply{Kind: KindInteger, Int: int64(len(r.Elems))}
	case KindStatus, KindString:
		// the count is not recoverable from a plain status
		n, err := strconv.ParseInt(r.Str, 10, 64)
		if err != nil {
			n = 0
		}
		*r = Reply{Kind: KindInteger, Int: n}
	}
}

package session

import (
	"fmt"
	"strconv"
)

// Redis hash layout. schemaVersion is bumped whenever a field is added or its
// meaning changes; readers reject versions they do not know.
const (
	schemaVersion = 2

	fieldVersion     = "v"
	fieldUserID      = "uid"
	fieldGeneration  = "gen"
	fieldCurrent     = "cur"
	fieldPrevious    = "prev"
	fieldStatus      = "st"
	fieldCreatedAt   = "ca"
	fieldRefreshedAt = "ra"
	fieldExpiresAt   = "ea"
	fieldRefreshedMs = "rm"
)

// encodeFields flattens sess into HSET arguments.
func encodeFields(sess *Session) []interface{} {
	prev := ""
	if sess.HasPrevious() {
		prev = string(sess.PreviousHash[:])
	}
	return []interface{}{
		fieldVersion, strconv.Itoa(schemaVersion),
		fieldUserID, sess.UserID,
		fieldGeneration, strconv.FormatUint(sess.Generation, 10),
		fieldCurrent, string(sess.CurrentHash[:]),
		fieldPrevious, prev,
		fieldStatus, strconv.Itoa(int(sess.Status)),
		fieldCreatedAt, strconv.FormatInt(sess.CreatedAt, 10),
		fieldRefreshedAt, strconv.FormatInt(sess.LastRefreshedAt, 10),
		fieldExpiresAt, strconv.FormatInt(sess.ExpiresAt, 10),
		fieldRefreshedMs, strconv.FormatInt(sess.LastRefreshedMillis, 10),
	}
}

// decodeFields rebuilds a session from an HGETALL reply.
func decodeFields(handle string, fields map[string]string) (*Session, error) {
	if v := fields[fieldVersion]; v != strconv.Itoa(schemaVersion) {
		return nil, fmt.Errorf("%w: unsupported schema version %q", ErrCorrupt, v)
	}
	sess := &Session{Handle: handle, UserID: fields[fieldUserID]}
	if sess.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrCorrupt)
	}

	var err error
	if sess.Generation, err = strconv.ParseUint(fields[fieldGeneration], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: generation: %v", ErrCorrupt, err)
	}
	if err := decodeHash(fields[fieldCurrent], &sess.CurrentHash, false); err != nil {
		return nil, err
	}
	if err := decodeHash(fields[fieldPrevious], &sess.PreviousHash, true); err != nil {
		return nil, err
	}

	st, err := strconv.ParseUint(fields[fieldStatus], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrCorrupt, err)
	}
	sess.Status = Status(st)
	if sess.Status != StatusActive && sess.Status != StatusRevoked {
		return nil, fmt.Errorf("%w: status %d", ErrCorrupt, st)
	}

	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{fieldCreatedAt, &sess.CreatedAt},
		{fieldRefreshedAt, &sess.LastRefreshedAt},
		{fieldExpiresAt, &sess.ExpiresAt},
		{fieldRefreshedMs, &sess.LastRefreshedMillis},
	} {
		if *f.dst, err = strconv.ParseInt(fields[f.name], 10, 64); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.name, err)
		}
	}
	return sess, nil
}

// decodeFlatReply converts the flat [k1, v1, k2, v2, ...] array a Lua script
// returns from HGETALL.
func decodeFlatReply(handle string, reply []interface{}) (*Session, error) {
	if len(reply)%2 != 0 {
		return nil, fmt.Errorf("%w: odd field count", ErrCorrupt)
	}
	fields := make(map[string]string, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		k, ok1 := reply[i].(string)
		v, ok2 := reply[i+1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: unexpected reply element", ErrCorrupt)
		}
		fields[k] = v
	}
	return decodeFields(handle, fields)
}

func decodeHash(raw string, dst *[32]byte, optional bool) error {
	if raw == "" && optional {
		*dst = [32]byte{}
		return nil
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("%w: fingerprint length %d", ErrCorrupt, len(raw))
	}
	copy(dst[:], raw)
	return nil
}

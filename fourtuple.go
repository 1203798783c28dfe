package acceptable

import "github.com/Banyc/udp-acceptable/internal/fourtuple"

// FourTuple identifies a UDP flow by its local and remote endpoints — the
// key by which the listener demultiplexes the wildcard socket into
// per-peer connections. See internal/fourtuple for the definition; it's
// aliased here so callers of this package never need to import an
// internal path.
type FourTuple = fourtuple.FourTuple

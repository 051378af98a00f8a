package diag

// Stable diagnostic codes. Compatibility policy: once assigned, a code must
// never be reassigned to a different meaning; a retired diagnostic retires
// its code permanently; changing semantics requires a new code plus a
// deprecation note here.
const (
	// Resolve (E0001-E0099, W0001-W0099).
	E0001 Code = "E0001" // duplicate const
	E0002 Code = "E0002" // duplicate param
	E0003 Code = "E0003" // duplicate define
	E0004 Code = "E0004" // duplicate task
	E0005 Code = "E0005" // cross-namespace collision
	E0006 Code = "E0006" // tap declared but never consumed
	E0007 Code = "E0007" // duplicate mode
	E0008 Code = "E0008" // undefined tap
	E0009 Code = "E0009" // duplicate tap declaration
	E0010 Code = "E0010" // multiple writers to shared buffer
	E0011 Code = "E0011" // unknown actor or define
	E0012 Code = "E0012" // non-polymorphic actor with type args
	E0013 Code = "E0013" // wrong number of type arguments
	E0014 Code = "E0014" // undefined param
	E0015 Code = "E0015" // undefined const
	E0016 Code = "E0016" // runtime param in frame dimension
	E0017 Code = "E0017" // unknown name in shape constraint
	E0018 Code = "E0018" // undefined param in switch source
	E0019 Code = "E0019" // switch references undefined mode
	E0020 Code = "E0020" // mode not listed in switch
	E0021 Code = "E0021" // mode listed multiple times in switch
	E0022 Code = "E0022" // undefined tap as actor input
	E0023 Code = "E0023" // shared buffer has no writer
	E0024 Code = "E0024" // tap reference used forward as pipe source
	E0025 Code = "E0025" // reserved
	E0026 Code = "E0026" // spawn range empty
	E0029 Code = "E0029" // unknown const in spawn bound
	W0001 Code = "W0001" // define shadows actor
	W0002 Code = "W0002" // deprecated switch default clause

	// TypeInfer (E0100-E0199).
	E0100 Code = "E0100" // unknown type
	E0101 Code = "E0101" // ambiguous polymorphic call (upstream context)
	E0102 Code = "E0102" // ambiguous polymorphic call (no context)

	// Lower (E0200-E0299).
	E0200 Code = "E0200" // L1 type consistency
	E0201 Code = "E0201" // L2 widening safety
	E0202 Code = "E0202" // L3 rate/shape preservation
	E0203 Code = "E0203" // L4 not fully monomorphized
	E0204 Code = "E0204" // L4 no concrete instance
	E0205 Code = "E0205" // L5 unresolved input type
	E0206 Code = "E0206" // L5 unresolved output type

	// Analyze (E0300-E0399, W0300-W0399).
	E0300 Code = "E0300" // unresolved frame dimension
	E0301 Code = "E0301" // conflicting frame constraint (upstream)
	E0302 Code = "E0302" // conflicting dimension source
	E0303 Code = "E0303" // type mismatch at pipe
	E0304 Code = "E0304" // SDF balance unsolvable
	E0305 Code = "E0305" // feedback loop with no delay
	E0306 Code = "E0306" // shared buffer rate mismatch
	E0307 Code = "E0307" // shared memory pool exceeded
	E0308 Code = "E0308" // param type mismatch
	E0309 Code = "E0309" // reserved
	E0310 Code = "E0310" // ctrl buffer type mismatch
	E0311 Code = "E0311" // reserved
	E0312 Code = "E0312" // reserved
	W0300 Code = "W0300" // inferred dim param ordering

	// Schedule (E0400-E0499, W0400-W0499).
	E0400 Code = "E0400" // unresolvable cycle
	W0400 Code = "W0400" // unsustainable tick rate

	// Graph (E0500-E0599).
	E0500 Code = "E0500" // tap not found in graph

	// Pipeline certs (E0600-E0699).
	E0600 Code = "E0600" // HIR verification failed
	E0601 Code = "E0601" // lowering verification failed
	E0602 Code = "E0602" // schedule verification failed
	E0603 Code = "E0603" // LIR verification failed

	// Usage (E0700-E0709).
	E0700 Code = "E0700" // conflicting --emit / --actor-meta usage

	// Codegen (E0710-E0799, W0710-W0799).
	E0710 Code = "E0710" // unsupported transport
	E0711 Code = "E0711" // unsupported dtype
	E0712 Code = "E0712" // unresolved endpoint argument
	W0710 Code = "W0710" // no endpoint address placeholder
	W0711 Code = "W0711" // dtype unresolved, no I/O adapter
)

// AllCodes lists every assigned code for uniqueness and format enforcement.
var AllCodes = []Code{
	E0001, E0002, E0003, E0004, E0005, E0006, E0007, E0008, E0009, E0010, E0011, E0012, E0013,
	E0014, E0015, E0016, E0017, E0018, E0019, E0020, E0021, E0022, E0023, E0024, E0025, E0026,
	E0029, W0001,
	W0002, E0100, E0101, E0102, E0200, E0201, E0202, E0203, E0204, E0205, E0206, E0300, E0301,
	E0302, E0303, E0304, E0305, E0306, E0307, E0308, E0309, E0310, E0311, E0312, W0300, E0400,
	W0400, E0500, E0600, E0601, E0602, E0603, E0700, E0710, E0711, E0712, W0710, W0711,
}

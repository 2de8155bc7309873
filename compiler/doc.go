/*
Process of translation

	Unit Text ->
		parse ->
	Block Intermediate Representation (ir) ->
		lower ->
	LLVM Function (llir) ->
		regopt ->
	LLVM Function without dead register file stores ->
		verify ->
	Translation Result

Lowering is done against a guest register file layout (arch)
and a memory model: generic helpers, direct user space access
or a software memory cache filled by the runtime (rt).

Generated code is executed for testing by interp.
*/
package compiler

/*
Package nodeid provides a structured, type-safe representation for pipeline
node identifiers.

The canonical format is `kind.name`, e.g. `layer.base`, `install.base`,
`gate.test` or `stage.prod`. The kind tells the executor which handler runs the
node; the name ties it back to the block in the pipeline definition.
*/
package nodeid

// Command autodb is a small smoke-test harness over the engine: it
// registers one example entity type (Note) and lets you migrate its
// table, inspect its schema, search its text column, or serve the
// inspection REST API against it.
package main

func main() {
	Execute()
}

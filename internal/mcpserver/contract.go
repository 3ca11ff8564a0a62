package mcpserver

// OperationContract describes how each recorded operation is undone, for
// LLM consumers deciding which operation to run.
const OperationContract = `# Rewind Operation Contract

Every operation run through ` + "`" + `run_operation` + "`" + ` is recorded as one command on the
undo history. ` + "`" + `undo_last` + "`" + ` reverts the newest command only.

## Operations

| type   | sources          | destination           | undo                                        |
|--------|------------------|-----------------------|---------------------------------------------|
| copy   | one or more      | existing directory    | deletes the copies, then the created dirs   |
| move   | one or more      | existing directory    | moves every item back                       |
| rename | exactly one      | new full path         | renames back                                |
| link   | one or more      | existing directory    | deletes the created symlinks                |
| mkdir  | none             | new directory path    | removes the directory, which must be empty  |
| trash  | one or more      | (ignored)             | restores items from the trash               |

## Rules

1. **Paths are absolute** (or ` + "`" + `file://` + "`" + ` URLs) and must stay inside the configured root.
2. **Destinations are never overwritten.** An existing target fails the operation
   and nothing is recorded.
3. **A failed undo step aborts the undo** and the command is dropped from the history.
4. **One undo at a time.** While an undo runs the history is locked and
   ` + "`" + `undo_status` + "`" + ` reports ` + "`" + `"locked": true` + "`" + `.
5. Directories created by a copy are removed after the copied files. A
   directory that gained new entries in the meantime makes the undo fail.

## Example

` + "```" + `json
{"type": "move", "sources": "[\"/data/in/a.txt\", \"/data/in/b.txt\"]", "destination": "/data/archive"}
` + "```" + `
`

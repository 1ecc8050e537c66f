package mcpserver

// LayoutURI is the resource describing the talk directory layout.
const LayoutURI = "talkdrop://layout"

// LayoutContract describes how talks map onto the file tree, for LLM
// consumers that read or attach files.
const LayoutContract = `# talkdrop Directory Layout

Every talk of the conference schedule owns one directory below the files root.

## Structure

` + "```" + `
<root>/
  <talk id>/                    # one per talk, created on every schedule refresh
    slides.pdf                  # uploads keep their original base name
    1703671200000.comment.txt   # comments: <unix millis>.comment.txt
  .temp/                        # staging area for uploads (ignored)
` + "```" + `

## Rules

1. **Talk ids** come from the schedule feed (` + "`" + `guid` + "`" + `). Use ` + "`" + `list_talks` + "`" + ` to find them.
2. **Uploads** with the same name replace the existing file.
3. **Comments** are plain UTF-8 text. Never write ` + "`" + `.comment.txt` + "`" + ` files with
   ` + "`" + `attach_file` + "`" + `; use ` + "`" + `add_comment` + "`" + `.
4. **Hidden names** (starting with a dot) are rejected.
5. **Directories without a talk** are orphans from earlier schedule versions; they
   are kept but not listed.
`

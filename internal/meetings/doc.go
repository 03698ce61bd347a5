// Package meetings reads calendar meetings from the workspace's markdown
// notes and records transcript attachments back into them.
//
// Each note is a markdown file whose YAML front matter carries id, title,
// start, end, attendees, and all_day. Attached transcripts are appended to a
// transcripts list in the same front matter; a meeting may collect one entry
// per source, and attaching the same path twice is a no-op.
package meetings

// Package upload validates untrusted file uploads before and after they are
// persisted: a streaming size ceiling that leaves the body rewound, an
// extension allow-list, derivation of a sanitised stored filename, atomic
// placement (temp file + rename) through the path guard, and a post-write
// text encoding check that deletes the file when it is not readable text.
package upload

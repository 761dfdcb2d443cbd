// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify also accepts bcrypt hashes imported from older user tables, and
// [Hasher.NeedsRehash] reports true for them so the caller can upgrade on
// the next successful sign-in.
//
// The package never stores passwords and imports no other authgate package.
package password

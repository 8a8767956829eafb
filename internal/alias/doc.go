// Package alias maps human-readable, versioned names onto
// content-addressed value ids. Aliases live in one or more mounted
// stores under distinct mountpoint namespaces; each name carries a
// monotonically versioned history, and tags give stable labels to
// individual versions.
//
// Wire format: "mountpoint#name@suffix" where the mountpoint and the
// suffix are both optional. A numeric suffix selects a version, any
// other suffix selects a tag, and a bare name resolves to the latest
// version.
package alias

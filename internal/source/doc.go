// Package source resolves what the download engine should fetch.
//
// A Resolver accepts plain URLs and GitHub or GitLab repository references
// and produces Descriptors: Generic for direct links, ReleaseAsset for
// files attached to a release, SourceArchive for provider-generated
// snapshots of a branch or tag. Release assets are matched against the
// running platform so a caller can offer the right binary first.
//
// All provider calls are read-only.
package source

package crawler

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// ClassifyCommit turns one commit into its WorkItems, per spec.md §4.6:
//   - Initial commit (zero parents): every blob in the tree is a one-sided
//     addition.
//   - Regular commit (one parent): a before/after pair per file diff against
//     the parent, addition/deletion/modification/rename all represented by
//     the presence/absence of PathBefore/PathAfter.
//   - Merge commit (>1 parents): skipped (returns no work items).
func ClassifyCommit(repoFullName string, commit *object.Commit) ([]domain.WorkItem, error) {
	switch len(commit.ParentHashes) {
	case 0:
		observability.RecordCommitClassified("initial")
		return classifyInitialCommit(repoFullName, commit)
	case 1:
		observability.RecordCommitClassified("regular")
		return classifyRegularCommit(repoFullName, commit)
	default:
		observability.RecordCommitClassified("merge")
		return nil, nil
	}
}

func classifyInitialCommit(repoFullName string, commit *object.Commit) ([]domain.WorkItem, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("crawler: read initial commit tree: %w", err)
	}

	treePaths, err := listTreePaths(tree)
	if err != nil {
		return nil, fmt.Errorf("crawler: list initial tree paths: %w", err)
	}

	var items []domain.WorkItem
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("crawler: walk initial tree: %w", err)
		}
		if entry.Mode.IsFile() {
			blob, err := readBlob(tree, name)
			if err != nil {
				continue
			}
			path := name
			items = append(items, domain.WorkItem{
				RepoFullName: repoFullName,
				CommitSHA:    commit.Hash.String(),
				AuthoredAt:   commit.Author.When,
				PathAfter:    &path,
				BlobAfter:    blob,
				TreePaths:    treePaths,
			})
		}
	}
	return items, nil
}

// listTreePaths returns every file path in tree, used to derive the
// in-tree/private-module set shared by all WorkItems of one commit.
func listTreePaths(tree *object.Tree) ([]string, error) {
	var paths []string
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if entry.Mode.IsFile() {
			paths = append(paths, name)
		}
	}
	return paths, nil
}

func classifyRegularCommit(repoFullName string, commit *object.Commit) ([]domain.WorkItem, error) {
	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("crawler: read parent commit: %w", err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, fmt.Errorf("crawler: read parent tree: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("crawler: read commit tree: %w", err)
	}

	changes, err := parentTree.Diff(tree)
	if err != nil {
		return nil, fmt.Errorf("crawler: diff trees: %w", err)
	}

	treePaths, err := listTreePaths(tree)
	if err != nil {
		return nil, fmt.Errorf("crawler: list commit tree paths: %w", err)
	}

	var items []domain.WorkItem
	for _, change := range changes {
		from, to, err := change.Files()
		if err != nil {
			continue
		}
		item := domain.WorkItem{
			RepoFullName: repoFullName,
			CommitSHA:    commit.Hash.String(),
			AuthoredAt:   commit.Author.When,
			TreePaths:    treePaths,
		}
		if from != nil {
			path := from.Name
			item.PathBefore = &path
			if b, err := from.Contents(); err == nil {
				item.BlobBefore = []byte(b)
			}
		}
		if to != nil {
			path := to.Name
			item.PathAfter = &path
			if b, err := to.Contents(); err == nil {
				item.BlobAfter = []byte(b)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func readBlob(tree *object.Tree, path string) ([]byte, error) {
	f, err := tree.File(path)
	if err != nil {
		return nil, err
	}
	content, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

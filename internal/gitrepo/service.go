// Package gitrepo archives assembled proposals as commits in one git
// repository per proposal.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"grantsmith/api/internal/proposal"
)

var (
	ErrNoArchive      = errors.New("proposal has no archive")
	ErrUnknownVersion = errors.New("unknown archived version")
)

const contentFile = "content.json"

// SectionContent is one authoritative section as archived.
type SectionContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type Content struct {
	Title       string           `json:"title"`
	TemplateID  string           `json:"templateId,omitempty"`
	Structure   []string         `json:"structure"`
	Sections    []SectionContent `json:"sections"`
	Assembled   string           `json:"assembled"`
	Fingerprint string           `json:"fingerprint"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// ContentFrom captures the archivable part of a snapshot. Failed and empty
// sections are left out.
func ContentFrom(doc proposal.Document) Content {
	content := Content{
		Title:      doc.Title,
		TemplateID: doc.TemplateID,
		Structure:  append([]string{}, doc.Structure...),
		Sections:   make([]SectionContent, 0, len(doc.Structure)),
		Assembled:  proposal.Assemble(doc),
	}
	for _, section := range doc.Ordered() {
		if !section.Authoritative() {
			continue
		}
		content.Sections = append(content.Sections, SectionContent{Name: section.Name, Text: section.Text})
	}
	if content.Assembled != "" {
		content.Fingerprint = proposal.Fingerprint(content.Assembled)
	}
	return content
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Archive commits content unless it matches the current head. The returned
// bool reports whether a new commit was written.
func (s *Service) Archive(proposalID string, content Content, author, message string) (CommitInfo, bool, error) {
	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	repo, created, err := s.openOrInit(proposalID)
	if err != nil {
		return CommitInfo{}, false, err
	}

	if !created {
		if head, err := headCommit(repo); err == nil {
			if previous, err := readContentFromCommit(head); err == nil && !HasChanges(previous, content) {
				return toCommitInfo(head), false, nil
			}
		}
	}

	hash, err := writeAndCommit(repo, content, author, message)
	if err != nil {
		return CommitInfo{}, false, err
	}
	if created {
		if err := pointMainAt(repo, hash); err != nil {
			return CommitInfo{}, false, err
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), true, nil
}

func (s *Service) Head(proposalID string) (Content, CommitInfo, error) {
	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(proposalID)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj), nil
}

func (s *Service) GetContentByHash(proposalID, hash string) (Content, error) {
	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(proposalID)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := commitByHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	return readContentFromCommit(commitObj)
}

func (s *Service) GetCommitByHash(proposalID, hash string) (CommitInfo, error) {
	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(proposalID)
	if err != nil {
		return CommitInfo{}, err
	}
	commitObj, err := commitByHash(repo, hash)
	if err != nil {
		return CommitInfo{}, err
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits newest first. limit <= 0 means all.
func (s *Service) History(proposalID string, limit int) ([]CommitInfo, error) {
	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(proposalID)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, max(limit, 0))
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Remove deletes the archive of a proposal. A missing archive is not an error.
func (s *Service) Remove(proposalID string) error {
	lock := s.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(proposalID)); err != nil {
		return fmt.Errorf("remove archive: %w", err)
	}
	return nil
}

func (s *Service) repoPath(proposalID string) string {
	return filepath.Join(s.baseDir, proposalID)
}

func (s *Service) proposalLock(proposalID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[proposalID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[proposalID] = lock
	return lock
}

func (s *Service) open(proposalID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(proposalID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoArchive
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(proposalID string) (*git.Repository, bool, error) {
	path := s.repoPath(proposalID)
	if _, err := os.Stat(path); err == nil {
		repo, err := s.open(proposalID)
		return repo, false, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func pointMainAt(repo *git.Repository, hash plumbing.Hash) error {
	main := plumbing.NewBranchReferenceName("main")
	if err := repo.Storer.SetReference(plumbing.NewHashReference(main, hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, main)); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	_ = repo.Storer.RemoveReference(plumbing.Master)
	return nil
}

func writeAndCommit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@grantsmith.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func commitByHash(repo *git.Repository, hash string) (*object.Commit, error) {
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVersion, err)
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return commitObj, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// ChangeKind describes how a section differs between two archived versions.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

type SectionChange struct {
	Section string     `json:"section"`
	Change  ChangeKind `json:"change"`
	Before  string     `json:"before,omitempty"`
	After   string     `json:"after,omitempty"`
}

// DiffSections lists section-level changes in the order of the newer
// structure, followed by sections that disappeared.
func DiffSections(from, to Content) []SectionChange {
	before := sectionTexts(from)
	after := sectionTexts(to)

	changes := make([]SectionChange, 0)
	seen := make(map[string]bool, len(to.Sections))
	for _, section := range to.Sections {
		seen[section.Name] = true
		previous, ok := before[section.Name]
		switch {
		case !ok:
			changes = append(changes, SectionChange{Section: section.Name, Change: ChangeAdded, After: section.Text})
		case previous != section.Text:
			changes = append(changes, SectionChange{Section: section.Name, Change: ChangeModified, Before: previous, After: section.Text})
		}
	}
	for _, section := range from.Sections {
		if seen[section.Name] {
			continue
		}
		if _, ok := after[section.Name]; !ok {
			changes = append(changes, SectionChange{Section: section.Name, Change: ChangeRemoved, Before: section.Text})
		}
	}
	return changes
}

func HasChanges(from, to Content) bool {
	if from.Title != to.Title || from.TemplateID != to.TemplateID || from.Fingerprint != to.Fingerprint {
		return true
	}
	if !slices.Equal(from.Structure, to.Structure) {
		return true
	}
	return len(DiffSections(from, to)) > 0
}

func sectionTexts(content Content) map[string]string {
	out := make(map[string]string, len(content.Sections))
	for _, section := range content.Sections {
		out[section.Name] = section.Text
	}
	return out
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "grantsmith"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}

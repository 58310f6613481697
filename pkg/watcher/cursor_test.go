package watcher_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proxyguard/log-watcher/pkg/watcher"
)

var _ = Describe("Log files", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	writeFile := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		return path
	}

	appendFile := func(path, content string) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		Expect(err).NotTo(HaveOccurred())
		_, err = f.WriteString(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Close()).To(Succeed())
	}

	Describe("DiscoverLogFiles", func() {
		It("should list access logs only", func() {
			writeFile("proxy-host-1_access.log", "")
			writeFile("proxy-host-2_access.log.1", "")
			writeFile("proxy-host-1_access.log.2.gz", "")
			writeFile("proxy-host-1_error.log", "")
			writeFile("fallback_access.log", "")
			writeFile("notes.txt", "")
			Expect(os.Mkdir(filepath.Join(dir, "old_access.log"), 0o700)).To(Succeed())

			paths, err := watcher.DiscoverLogFiles(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(paths).To(Equal([]string{
				filepath.Join(dir, "fallback_access.log"),
				filepath.Join(dir, "proxy-host-1_access.log"),
				filepath.Join(dir, "proxy-host-2_access.log.1"),
			}))
		})

		It("should fail on a missing directory", func() {
			_, err := watcher.DiscoverLogFiles(filepath.Join(dir, "missing"))
			Expect(err).To(HaveOccurred())
		})

		DescribeTable("IsAccessLog",
			func(name string, expected bool) {
				Expect(watcher.IsAccessLog(name)).To(Equal(expected))
			},
			Entry("proxy host log", "proxy-host-3_access.log", true),
			Entry("rotated log", "proxy-host-3_access.log.1", true),
			Entry("compressed log", "proxy-host-3_access.log.2.gz", false),
			Entry("error log", "proxy-host-3_error.log", false),
			Entry("unrelated file", "letsencrypt.log", false),
		)
	})

	Describe("ReadNew", func() {
		It("should read complete lines and skip blank ones", func() {
			path := writeFile("a_access.log", "one\n\n  \ntwo\r\n")

			result, err := watcher.ReadNew(path, watcher.FileCursor{Path: path}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Lines).To(Equal([]string{"one", "two"}))
			Expect(result.Cursor.Offset).To(Equal(int64(len("one\n\n  \ntwo\r\n"))))
			Expect(result.Cursor.LastKnownSize).To(Equal(result.Cursor.Offset))
			Expect(result.Rotated).To(BeFalse())
		})

		It("should only read bytes appended since the cursor", func() {
			path := writeFile("a_access.log", "one\n")
			first, err := watcher.ReadNew(path, watcher.FileCursor{Path: path}, 0)
			Expect(err).NotTo(HaveOccurred())

			appendFile(path, "two\nthree\n")
			second, err := watcher.ReadNew(path, first.Cursor, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Lines).To(Equal([]string{"two", "three"}))
		})

		It("should return nothing when the file did not change", func() {
			path := writeFile("a_access.log", "one\n")
			first, err := watcher.ReadNew(path, watcher.FileCursor{Path: path}, 0)
			Expect(err).NotTo(HaveOccurred())

			second, err := watcher.ReadNew(path, first.Cursor, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Lines).To(BeEmpty())
			Expect(second.Cursor).To(Equal(first.Cursor))
		})

		It("should withhold a trailing line until its newline is written", func() {
			path := writeFile("a_access.log", "one\ntw")

			first, err := watcher.ReadNew(path, watcher.FileCursor{Path: path}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Lines).To(Equal([]string{"one"}))
			Expect(first.Cursor.Offset).To(Equal(int64(4)))
			Expect(first.Cursor.LastKnownSize).To(Equal(int64(6)))

			appendFile(path, "o\n")
			second, err := watcher.ReadNew(path, first.Cursor, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Lines).To(Equal([]string{"two"}))
		})

		It("should read a shrunk file again from the start", func() {
			path := writeFile("a_access.log", "one\ntwo\nthree\n")
			first, err := watcher.ReadNew(path, watcher.FileCursor{Path: path}, 0)
			Expect(err).NotTo(HaveOccurred())

			writeFile("a_access.log", "four\n")
			second, err := watcher.ReadNew(path, first.Cursor, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Rotated).To(BeTrue())
			Expect(second.Lines).To(Equal([]string{"four"}))
			Expect(second.Cursor.Offset).To(Equal(int64(5)))
		})

		It("should consume a backlog over several reads", func() {
			path := writeFile("a_access.log", "aaaa\nbbbb\ncccc\n")

			cursor := watcher.FileCursor{Path: path}
			var lines []string
			for i := 0; i < 3; i++ {
				result, err := watcher.ReadNew(path, cursor, 7)
				Expect(err).NotTo(HaveOccurred())
				lines = append(lines, result.Lines...)
				cursor = result.Cursor
			}
			Expect(lines).To(Equal([]string{"aaaa", "bbbb", "cccc"}))
		})

		It("should skip a line longer than the read limit", func() {
			path := writeFile("a_access.log", strings.Repeat("x", 10)+"\nok\n")

			result, err := watcher.ReadNew(path, watcher.FileCursor{Path: path}, 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Lines).To(BeEmpty())
			Expect(result.Discarded).To(Equal(int64(8)))

			Expect(result.Cursor.Discarding).To(BeTrue())

			result, err = watcher.ReadNew(path, result.Cursor, 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Lines).To(Equal([]string{"ok"}))
			Expect(result.Discarded).To(Equal(int64(3)))
			Expect(result.Cursor.Discarding).To(BeFalse())
			Expect(result.Cursor.Offset).To(Equal(int64(14)))
		})

		It("should keep skipping a line spanning several reads", func() {
			path := writeFile("a_access.log", strings.Repeat("x", 20)+"\nok\n")

			cursor := watcher.FileCursor{Path: path}
			var lines []string
			for i := 0; i < 4; i++ {
				result, err := watcher.ReadNew(path, cursor, 8)
				Expect(err).NotTo(HaveOccurred())
				lines = append(lines, result.Lines...)
				cursor = result.Cursor
			}
			Expect(lines).To(Equal([]string{"ok"}))
			Expect(cursor.Offset).To(Equal(int64(24)))
		})

		It("should report a missing file as not existing", func() {
			_, err := watcher.ReadNew(filepath.Join(dir, "gone_access.log"), watcher.FileCursor{}, 0)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Describe("Cursors", func() {
		It("should return a zero cursor for unknown files", func() {
			cursors := watcher.NewCursors()
			Expect(cursors.Get("/logs/a")).To(Equal(watcher.FileCursor{Path: "/logs/a"}))
		})

		It("should prune cursors of files no longer present", func() {
			cursors := watcher.NewCursors()
			cursors.Set(watcher.FileCursor{Path: "/logs/a", Offset: 10})
			cursors.Set(watcher.FileCursor{Path: "/logs/b", Offset: 20})
			cursors.Set(watcher.FileCursor{Path: "/logs/c", Offset: 30})

			Expect(cursors.Prune([]string{"/logs/b"})).To(Equal(2))
			Expect(cursors.Len()).To(Equal(1))
			Expect(cursors.Get("/logs/b").Offset).To(Equal(int64(20)))
		})

		It("should delete a cursor", func() {
			cursors := watcher.NewCursors()
			cursors.Set(watcher.FileCursor{Path: "/logs/a", Offset: 10})
			cursors.Delete("/logs/a")
			Expect(cursors.Len()).To(Equal(0))
		})
	})
})

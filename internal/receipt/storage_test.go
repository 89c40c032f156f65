package receipt

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the directory", func() {
		Expect(filepath.Join(tmpDir, "receipts")).To(BeADirectory())
	})

	Describe("Save and Get", func() {
		It("round trips the receipt image", func() {
			name, err := storage.Save("scan-1_receipt.png", []byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("scan-1_receipt.png"))
			Expect(filepath.Join(tmpDir, "receipts", name)).To(BeAnExistingFile())

			data, err := storage.Get(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("png bytes"))
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				_, err := storage.Get("missing.png")
				Expect(err).To(MatchError(ContainSubstring("reading file")))
			})
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			_, err := storage.Save("scan-1_receipt.png", []byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete("scan-1_receipt.png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "receipts", "scan-1_receipt.png")).NotTo(BeAnExistingFile())
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				Expect(storage.Delete("missing.png")).To(MatchError(ContainSubstring("deleting file")))
			})
		})
	})

	DescribeTable("rejects names outside the directory",
		func(name string) {
			_, err := storage.Save(name, []byte("x"))
			Expect(err).To(MatchError(ErrInvalidPath))
			_, err = storage.Get(name)
			Expect(err).To(MatchError(ErrInvalidPath))
			Expect(storage.Delete(name)).To(MatchError(ErrInvalidPath))
		},
		Entry("parent directory", "../secret.png"),
		Entry("nested path", "a/b.png"),
		Entry("empty", ""),
		Entry("dot dot", ".."),
	)
})

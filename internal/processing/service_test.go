package processing

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-checker/internal/scanning"
)

var _ = Describe("Service", func() {
	var (
		db        *mockDB
		storage   *mockStorage
		extractor *mockExtractor
		cache     *mockCache
		publisher *mockPublisher
		service   *Service
		ctx       context.Context
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		cache = newMockCache()
		publisher = &mockPublisher{}
		ctx = context.Background()
		service = NewServiceWithDeps(db, extractor, storage, &sequentialIDs{}, fixedClock{now: testNow},
			WithCache(cache), WithPublisher(publisher))
	})

	Describe("ProcessInvoice", func() {
		var (
			filename    string
			data        []byte
			contentType string
			doc         *Document
			err         error
		)

		BeforeEach(func() {
			filename = "ACME invoice #42.pdf"
			data = []byte("%PDF-1.4 invoice")
			contentType = "application/pdf"
		})

		JustBeforeEach(func() {
			doc, err = service.ProcessInvoice(ctx, filename, data, contentType)
		})

		When("the extraction is consistent", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns a valid document", func() {
				Expect(doc.ID).To(Equal("id-1"))
				Expect(doc.OriginalName).To(Equal("ACME invoice #42.pdf"))
				Expect(doc.Filename).To(Equal("id-1_ACME invoice 42.pdf"))
				Expect(doc.ContentType).To(Equal("application/pdf"))
				Expect(doc.Record).To(MatchJSON(validRecord))
				Expect(doc.Verdict.IsValid).To(BeTrue())
				Expect(doc.CreatedAt).To(Equal(testNow))
			})

			It("stores the file", func() {
				Expect(storage.files).To(HaveKeyWithValue("id-1_ACME invoice 42.pdf", data))
			})

			It("saves the document", func() {
				saved, getErr := db.GetDocument("id-1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Verdict.IsValid).To(BeTrue())
			})

			It("publishes a processed event", func() {
				Expect(publisher.events).To(HaveLen(1))
				Expect(publisher.events[0].Type).To(Equal(EventProcessed))
				Expect(publisher.events[0].DocumentID).To(Equal("id-1"))
			})
		})

		When("the extracted amounts do not add up", func() {
			BeforeEach(func() {
				extractor.result = &scanning.Extraction{Record: []byte(mismatchedRecord)}
			})

			It("saves the document with its errors", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.Verdict.IsValid).To(BeFalse())
				Expect(doc.Verdict.Errors).To(ContainElement("Item 1: total_price mismatch: expected 20.00, got 25"))
				Expect(db.documents).To(HaveKey("id-1"))
			})
		})

		When("no content type is given", func() {
			BeforeEach(func() {
				filename = "scan.PNG"
				contentType = ""
			})

			It("uses the file extension", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.ContentType).To(Equal("image/png"))
			})
		})

		When("the file type is not supported", func() {
			BeforeEach(func() {
				filename = "notes.txt"
				contentType = "text/plain"
			})

			It("returns ErrUnsupportedFile", func() {
				Expect(err).To(MatchError(ErrUnsupportedFile))
			})

			It("does not store or extract anything", func() {
				Expect(storage.count()).To(Equal(0))
				Expect(extractor.calls).To(Equal(0))
			})
		})

		When("the file is too large", func() {
			BeforeEach(func() {
				data = make([]byte, MaxFileSize+1)
			})

			It("returns ErrFileTooLarge", func() {
				Expect(err).To(MatchError(ErrFileTooLarge))
				Expect(storage.count()).To(Equal(0))
			})
		})

		When("storage fails", func() {
			BeforeEach(func() {
				storage.saveErr = errors.New("disk full")
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("disk full")))
				Expect(extractor.calls).To(Equal(0))
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.result = nil
				extractor.err = errors.New("quota exceeded")
			})

			It("returns the error as an extraction failure", func() {
				Expect(err).To(MatchError(ErrExtraction))
				Expect(err).To(MatchError(ContainSubstring("quota exceeded")))
			})

			It("removes the stored file", func() {
				Expect(storage.count()).To(Equal(0))
			})

			It("saves nothing", func() {
				Expect(db.documents).To(BeEmpty())
				Expect(publisher.events).To(BeEmpty())
			})
		})

		When("the model returns no JSON", func() {
			BeforeEach(func() {
				extractor.result = &scanning.Extraction{Raw: "I cannot read this"}
				extractor.err = scanning.ErrNoJSON
			})

			It("keeps the raw text", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.Raw).To(Equal("I cannot read this"))
				Expect(doc.Record).To(BeEmpty())
			})

			It("reports the document as unstructured", func() {
				Expect(doc.Verdict.Errors).To(Equal([]string{"Input must be a structured record"}))
			})
		})

		When("the database save fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("database locked")
			})

			It("returns the error and removes the file", func() {
				Expect(err).To(MatchError(ContainSubstring("database locked")))
				Expect(err).NotTo(MatchError(ErrExtraction))
				Expect(storage.count()).To(Equal(0))
			})
		})

		When("publishing fails", func() {
			BeforeEach(func() {
				publisher.err = errors.New("broker down")
			})

			It("still returns the document", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(doc).NotTo(BeNil())
			})
		})
	})

	Describe("ValidateRecord", func() {
		It("validates the record", func() {
			verdict := service.ValidateRecord(ctx, []byte(mismatchedRecord))
			Expect(verdict.IsValid).To(BeFalse())
			Expect(verdict.TotalErrors).To(Equal(len(verdict.Errors)))
		})

		It("reuses a cached verdict", func() {
			first := service.ValidateRecord(ctx, []byte(validRecord))
			second := service.ValidateRecord(ctx, []byte(validRecord))
			Expect(second).To(Equal(first))
			Expect(cache.gets).To(Equal(2))
			Expect(cache.sets).To(Equal(1))
		})

		It("validates anyway when the cache fails", func() {
			cache.getErr = errors.New("redis down")
			cache.setErr = errors.New("redis down")
			verdict := service.ValidateRecord(ctx, []byte(validRecord))
			Expect(verdict.IsValid).To(BeTrue())
		})

		It("works without a cache", func() {
			plain := NewService(db, extractor, storage)
			verdict := plain.ValidateRecord(ctx, []byte("not json at all"))
			Expect(verdict.Errors).To(Equal([]string{"Input must be a structured record"}))
		})
	})

	Describe("Revalidate", func() {
		BeforeEach(func() {
			db.documents["doc-1"] = &Document{ID: "doc-1", Record: []byte(mismatchedRecord)}
		})

		It("recomputes and saves the verdict", func() {
			doc, err := service.Revalidate(ctx, "doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Verdict.IsValid).To(BeFalse())
			Expect(doc.UpdatedAt).To(Equal(testNow))
			Expect(db.documents["doc-1"].Verdict.TotalErrors).To(BeNumerically(">", 0))
		})

		It("publishes a revalidated event", func() {
			_, err := service.Revalidate(ctx, "doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.events).To(HaveLen(1))
			Expect(publisher.events[0].Type).To(Equal(EventRevalidated))
		})

		It("returns ErrNotFound for unknown documents", func() {
			_, err := service.Revalidate(ctx, "missing")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("keeps the batch of a batched document", func() {
			db.documents["doc-1"].BatchID = "batch-1"

			doc, err := service.Revalidate(ctx, "doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.BatchID).To(Equal("batch-1"))
			Expect(db.documents["doc-1"].BatchID).To(Equal("batch-1"))
		})
	})

	Describe("DeleteDocument", func() {
		BeforeEach(func() {
			storage.files["doc-1_a.pdf"] = []byte("pdf")
			db.documents["doc-1"] = &Document{ID: "doc-1", Filename: "doc-1_a.pdf"}
			db.documents["doc-2"] = &Document{ID: "doc-2", Filename: "doc-2_b.pdf", BatchID: "batch-1"}
		})

		It("removes the document and its file", func() {
			Expect(service.DeleteDocument("doc-1")).To(Succeed())
			Expect(db.documents).NotTo(HaveKey("doc-1"))
			Expect(storage.files).NotTo(HaveKey("doc-1_a.pdf"))
		})

		It("still deletes the record when the file is gone", func() {
			storage.deleteErr = errors.New("no such file")
			Expect(service.DeleteDocument("doc-1")).To(Succeed())
			Expect(db.documents).NotTo(HaveKey("doc-1"))
		})

		It("refuses documents in a batch", func() {
			Expect(service.DeleteDocument("doc-2")).To(MatchError(ErrAlreadyBatched))
		})

		It("returns ErrNotFound for unknown documents", func() {
			Expect(service.DeleteDocument("missing")).To(MatchError(ErrNotFound))
		})
	})

	Describe("GetDocumentFile", func() {
		BeforeEach(func() {
			storage.files["doc-1_a.png"] = []byte("png bytes")
			db.documents["doc-1"] = &Document{ID: "doc-1", Filename: "doc-1_a.png", ContentType: "image/png"}
		})

		It("returns the file and its type", func() {
			data, ct, err := service.GetDocumentFile("doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png bytes")))
			Expect(ct).To(Equal("image/png"))
		})

		It("returns ErrNotFound when the file is missing", func() {
			delete(storage.files, "doc-1_a.png")
			_, _, err := service.GetDocumentFile("doc-1")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("CreateBatch", func() {
		BeforeEach(func() {
			db.documents["doc-1"] = &Document{ID: "doc-1", Verdict: service.ValidateRecord(ctx, []byte(validRecord))}
			db.documents["doc-2"] = &Document{ID: "doc-2", Verdict: service.ValidateRecord(ctx, []byte(mismatchedRecord))}
		})

		It("counts valid and invalid documents", func() {
			batch, err := service.CreateBatch([]string{"doc-1", "doc-2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.ID).To(Equal("id-1"))
			Expect(batch.Valid).To(Equal(1))
			Expect(batch.Invalid).To(Equal(1))
			Expect(batch.DocumentIDs).To(Equal([]string{"doc-1", "doc-2"}))
		})

		It("marks the documents", func() {
			batch, err := service.CreateBatch([]string{"doc-1", "doc-2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(db.documents["doc-1"].BatchID).To(Equal(batch.ID))
			Expect(db.documents["doc-2"].BatchID).To(Equal(batch.ID))
		})

		It("rejects an empty list", func() {
			_, err := service.CreateBatch(nil)
			Expect(err).To(MatchError(ErrEmptyBatch))
		})

		It("rejects unknown documents", func() {
			_, err := service.CreateBatch([]string{"doc-1", "missing"})
			Expect(err).To(MatchError(ErrNotFound))
			Expect(db.batches).To(BeEmpty())
		})

		It("rejects documents that are already batched", func() {
			_, err := service.CreateBatch([]string{"doc-1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.CreateBatch([]string{"doc-1", "doc-2"})
			Expect(err).To(MatchError(ErrAlreadyBatched))
		})

		It("rejects duplicate ids", func() {
			_, err := service.CreateBatch([]string{"doc-1", "doc-1"})
			Expect(err).To(MatchError(ErrDuplicateDocument))
			Expect(db.batches).To(BeEmpty())
		})

		It("leaves every document unbatched when one is already batched", func() {
			db.documents["doc-2"].BatchID = "batch-0"

			_, err := service.CreateBatch([]string{"doc-1", "doc-2"})
			Expect(err).To(MatchError(ErrAlreadyBatched))
			Expect(db.batches).To(BeEmpty())
			Expect(db.documents["doc-1"].BatchID).To(BeEmpty())
		})

		It("surfaces storage failures without a batch", func() {
			db.batchErr = errors.New("database locked")

			_, err := service.CreateBatch([]string{"doc-1"})
			Expect(err).To(MatchError(ContainSubstring("database locked")))
			Expect(db.batches).To(BeEmpty())
		})
	})

	Describe("GetBatchWithDocuments", func() {
		It("returns the batch and its documents in order", func() {
			db.documents["doc-1"] = &Document{ID: "doc-1"}
			db.documents["doc-2"] = &Document{ID: "doc-2"}
			batch, err := service.CreateBatch([]string{"doc-2", "doc-1"})
			Expect(err).NotTo(HaveOccurred())

			got, docs, err := service.GetBatchWithDocuments(batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(batch.ID))
			Expect(docs).To(HaveLen(2))
			Expect(docs[0].ID).To(Equal("doc-2"))
		})

		It("returns ErrNotFound for unknown batches", func() {
			_, _, err := service.GetBatchWithDocuments("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})

var _ = Describe("SanitizeFilename", func() {
	DescribeTable("cleaning names",
		func(in, want string) {
			Expect(SanitizeFilename(in)).To(Equal(want))
		},
		Entry("phone photo", "IMG_20240601_123456 (1).JPG", "IMG_20240601_123456 1.jpg"),
		Entry("path components", "../../etc/passwd", "passwd"),
		Entry("only symbols", "@@@.pdf", "invoice.pdf"),
		Entry("non ascii letters", "factura  número 7.pdf", "factura nmero 7.pdf"),
		Entry("long name", strings.Repeat("a", 80)+".png", strings.Repeat("a", 50)+".png"),
	)
})

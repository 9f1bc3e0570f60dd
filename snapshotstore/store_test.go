package snapshotstore

import (
	"context"
	"errors"
	"io"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/chipsim/sim/state"
	"github.com/sarchlab/chipsim/sim/timing"
)

var _ = Describe("Store", func() {
	var (
		mockCtrl *gomock.Controller
		machine  *MockMachine
		registry *state.Registry
		counter  uint32
		store    *Store
		ctx      context.Context
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		machine = NewMockMachine(mockCtrl)
		ctx = context.Background()

		var err error
		registry, err = state.NewRegistry("1.0.0")
		Expect(err).NotTo(HaveOccurred())

		registry.Open()
		Expect(state.Register(registry.Namespace("Cpu"), "counter", &counter)).
			To(Succeed())
		registry.Seal()

		machine.EXPECT().Name().Return("Demo").AnyTimes()
		machine.EXPECT().Version().Return("1.0.0").AnyTimes()
		machine.EXPECT().Now().Return(timing.FromSec(3)).AnyTimes()
		machine.EXPECT().Save(gomock.Any()).
			DoAndReturn(func(w io.Writer) error {
				return registry.Save(w)
			}).AnyTimes()
		machine.EXPECT().Restore(gomock.Any()).
			DoAndReturn(func(r io.Reader) error {
				return registry.Restore(r)
			}).AnyTimes()

		store, err = Open(filepath.Join(GinkgoT().TempDir(), "snap.sqlite3"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		store.Close()
		mockCtrl.Finish()
	})

	It("should save and load a snapshot", func() {
		counter = 42

		info, err := store.Save(ctx, "boot", machine)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Label).To(Equal("boot"))
		Expect(info.Machine).To(Equal("Demo"))
		Expect(info.Version).To(Equal("1.0.0"))
		Expect(info.SimTime).To(Equal("3s"))
		Expect(info.Items).To(Equal(1))

		counter = 0

		loaded, err := store.Load(ctx, "boot", machine)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.ID).To(Equal(info.ID))
		Expect(loaded.Size).To(Equal(info.Size))
		Expect(counter).To(Equal(uint32(42)))
	})

	It("should replace snapshots with the same label", func() {
		counter = 1
		first, err := store.Save(ctx, "slot", machine)
		Expect(err).NotTo(HaveOccurred())

		counter = 2
		second, err := store.Save(ctx, "slot", machine)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ID).NotTo(Equal(first.ID))

		infos, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(infos).To(HaveLen(1))

		_, err = store.Load(ctx, "slot", machine)
		Expect(err).NotTo(HaveOccurred())
		Expect(counter).To(Equal(uint32(2)))
	})

	It("should list snapshots", func() {
		_, err := store.Save(ctx, "a", machine)
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Save(ctx, "b", machine)
		Expect(err).NotTo(HaveOccurred())

		infos, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())

		labels := []string{}
		for _, i := range infos {
			labels = append(labels, i.Label)
			Expect(i.Size).To(BeNumerically(">", 4))
		}

		Expect(labels).To(ConsistOf("a", "b"))
	})

	It("should report missing snapshots", func() {
		_, err := store.Load(ctx, "nothing", machine)
		Expect(err).To(MatchError(ErrNotFound))

		Expect(store.Delete(ctx, "nothing")).To(MatchError(ErrNotFound))
	})

	It("should delete snapshots", func() {
		_, err := store.Save(ctx, "a", machine)
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Delete(ctx, "a")).To(Succeed())

		infos, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(infos).To(BeEmpty())
	})

	It("should refuse data that is not a snapshot", func() {
		_, err := store.Put(ctx, "junk", "Demo", timing.Zero, []byte("junk"))
		Expect(err).To(MatchError(state.ErrCorruptSnapshot))
	})

	It("should pass on machine errors", func() {
		failing := NewMockMachine(mockCtrl)
		failing.EXPECT().Save(gomock.Any()).Return(errors.New("busy"))

		_, err := store.Save(ctx, "a", failing)
		Expect(err).To(MatchError("busy"))
	})
})

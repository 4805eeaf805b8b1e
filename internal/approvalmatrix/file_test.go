package approvalmatrix_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
)

const rulesYAML = `
rules:
  - id: value-up-to-5000
    name: Up to RM 5,000
    priority: 10
    max_value: "5000"
    approvers:
      - level: 1
        kind: role
        role: approver
  - id: junior-above-2000
    priority: 20
    min_value: "2000.01"
    max_grade: 44
    categories: [laptop, camera]
    approvers:
      - level: 2
        kind: grade
        min_grade: 48
  - id: retired
    priority: 30
    active: false
    approvers:
      - level: 3
        kind: identity
        user_id: u-99
`

var _ = Describe("Rule files", func() {
	It("parses rules with exact decimal bounds", func() {
		rules, err := approvalmatrix.ParseRulesYAML([]byte(rulesYAML))
		Expect(err).NotTo(HaveOccurred())
		Expect(rules).To(HaveLen(3))
		Expect(rules[0].MaxValue.String()).To(Equal("5000"))
		Expect(rules[1].MinValue.String()).To(Equal("2000.01"))
		Expect(*rules[1].MaxGrade).To(Equal(44))
		Expect(rules[0].Active).To(BeTrue())
		Expect(rules[2].Active).To(BeFalse())
	})

	It("rejects an empty file", func() {
		_, err := approvalmatrix.ParseRulesYAML([]byte("  \n"))
		Expect(internal.IsErrorCode(err, internal.ErrCodeInvalidRule)).To(BeTrue())
	})

	It("rejects an unparsable amount", func() {
		_, err := approvalmatrix.ParseRulesYAML([]byte(`
rules:
  - id: bad
    min_value: lots
    approvers: [{level: 1, kind: role, role: approver}]
`))
		Expect(internal.IsErrorCode(err, internal.ErrCodeInvalidRule)).To(BeTrue())
	})

	It("rejects an unknown approver kind", func() {
		_, err := approvalmatrix.ParseRulesYAML([]byte(`
rules:
  - id: bad
    approvers: [{level: 1, kind: committee}]
`))
		Expect(err).To(HaveOccurred())
	})

	It("reloads the file on every Load", func() {
		path := filepath.Join(GinkgoT().TempDir(), "rules.yml")
		Expect(os.WriteFile(path, []byte(rulesYAML), 0o600)).To(Succeed())

		source := approvalmatrix.NewFileSource(path, false)
		rs, err := source.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.Len()).To(Equal(3))

		Expect(os.WriteFile(path, []byte(`
rules:
  - id: only
    approvers: [{level: 1, kind: role, role: approver}]
`), 0o600)).To(Succeed())

		rs, err = source.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.Len()).To(Equal(1))
	})
})

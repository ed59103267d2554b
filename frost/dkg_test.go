package frost

import (
	"testing"

	"github.com/shieldnet/validator/internal/testutils"
)

func TestProveVerifyKnowledge(t *testing.T) {
	curve := ciphersuite.Curve()

	coefficients, err := GeneratePolynomial(curve, threshold)
	if err != nil {
		t.Fatal(err)
	}

	commitments := Commit(curve, coefficients)

	pok, err := ProveKnowledge(ciphersuite, 7, coefficients[0], commitments[0])
	if err != nil {
		t.Fatal(err)
	}

	testutils.AssertBoolsEqual(
		t,
		"proof of knowledge verifies",
		true,
		VerifyKnowledge(ciphersuite, 7, commitments[0], pok),
	)
}

func TestVerifyKnowledge_WrongID(t *testing.T) {
	curve := ciphersuite.Curve()

	coefficients, err := GeneratePolynomial(curve, threshold)
	if err != nil {
		t.Fatal(err)
	}

	commitments := Commit(curve, coefficients)

	pok, err := ProveKnowledge(ciphersuite, 7, coefficients[0], commitments[0])
	if err != nil {
		t.Fatal(err)
	}

	testutils.AssertBoolsEqual(
		t,
		"proof of knowledge verifies under the wrong id",
		false,
		VerifyKnowledge(ciphersuite, 8, commitments[0], pok),
	)
}

func TestEvalPolyMatchesCommitment(t *testing.T) {
	curve := ciphersuite.Curve()

	coefficients, err := GeneratePolynomial(curve, threshold)
	if err != nil {
		t.Fatal(err)
	}

	commitments := Commit(curve, coefficients)

	for _, x := range []uint64{1, 2, 3, 17, 254} {
		share := EvalPoly(curve, coefficients, x)
		expected := curve.EcBaseMul(share)
		actual := EvalCommitment(curve, commitments, x)

		testutils.AssertBoolsEqual(
			t,
			"g*share equals commitment evaluation",
			true,
			expected.Equals(actual),
		)
	}
}

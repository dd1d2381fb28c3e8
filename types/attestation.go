package types

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxProofSize bounds the inclusion proof carried by an attestation.
	MaxProofSize = 1 << 20

	// SignatureLength is the length of a [R || S || V] secp256k1 signature.
	SignatureLength = crypto.SignatureLength

	attestationWireVersion byte = 1
)

// attestationDomain separates attestation digests from any other message a
// provider key might sign.
var attestationDomain = []byte("stakelight/attestation/v1")

// BlockAttestation is a provider's signed answer for one block: the block
// hash it claims and an inclusion proof anchored to that block.
type BlockAttestation struct {
	BlockNumber uint64
	BlockHash   common.Hash
	Proof       []byte
	Signature   []byte
	Signer      common.Address
}

// AttestationSignBytes returns the canonical encoding of
// (blockNumber, blockHash, proof):
//
//	domain || uint64be(blockNumber) || blockHash[32] || uint32be(len(proof)) || proof
//
// Every field is fixed width or length-prefixed, so no two distinct triples
// share an encoding.
func AttestationSignBytes(blockNumber uint64, blockHash common.Hash, proof []byte) []byte {
	buf := make([]byte, 0, len(attestationDomain)+8+common.HashLength+4+len(proof))
	buf = append(buf, attestationDomain...)
	buf = binary.BigEndian.AppendUint64(buf, blockNumber)
	buf = append(buf, blockHash.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(proof)))
	buf = append(buf, proof...)
	return buf
}

// AttestationDigest is the hash that providers sign: the EIP-191 personal
// message hash of keccak256(AttestationSignBytes(...)).
func AttestationDigest(blockNumber uint64, blockHash common.Hash, proof []byte) []byte {
	return accounts.TextHash(crypto.Keccak256(AttestationSignBytes(blockNumber, blockHash, proof)))
}

// SignAttestation produces an attestation signed by key.
func SignAttestation(key *ecdsa.PrivateKey, blockNumber uint64, blockHash common.Hash, proof []byte) (*BlockAttestation, error) {
	if len(proof) > MaxProofSize {
		return nil, fmt.Errorf("proof too large (%d > %d)", len(proof), MaxProofSize)
	}
	sig, err := crypto.Sign(AttestationDigest(blockNumber, blockHash, proof), key)
	if err != nil {
		return nil, fmt.Errorf("signing attestation: %w", err)
	}
	// Ethereum tooling (and the registry contract) expects V in {27, 28}.
	sig[crypto.RecoveryIDOffset] += 27

	return &BlockAttestation{
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		Proof:       common.CopyBytes(proof),
		Signature:   sig,
		Signer:      crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// SignBytes returns the canonical encoding covered by the signature.
func (a *BlockAttestation) SignBytes() []byte {
	return AttestationSignBytes(a.BlockNumber, a.BlockHash, a.Proof)
}

// Digest returns the hash covered by the signature.
func (a *BlockAttestation) Digest() []byte {
	return AttestationDigest(a.BlockNumber, a.BlockHash, a.Proof)
}

// SameAnswer reports whether both attestations carry byte-identical block
// hashes and proofs.
func (a *BlockAttestation) SameAnswer(b *BlockAttestation) bool {
	return a.BlockHash == b.BlockHash && bytes.Equal(a.Proof, b.Proof)
}

// ValidateBasic checks field sizes. It does not verify the signature.
func (a *BlockAttestation) ValidateBasic() error {
	if a == nil {
		return errors.New("nil attestation")
	}
	if len(a.Proof) > MaxProofSize {
		return fmt.Errorf("proof too large (%d > %d)", len(a.Proof), MaxProofSize)
	}
	if len(a.Signature) != SignatureLength {
		return ErrMalformedSignature{Reason: fmt.Errorf("wrong length %d, want %d", len(a.Signature), SignatureLength)}
	}
	return nil
}

// Marshal returns the wire form of the attestation:
//
//	version || uint64be(blockNumber) || blockHash[32] ||
//	uint32be(len(proof)) || proof || uint32be(len(signature)) || signature || signer[20]
func (a *BlockAttestation) Marshal() []byte {
	buf := make([]byte, 0, 1+8+common.HashLength+4+len(a.Proof)+4+len(a.Signature)+common.AddressLength)
	buf = append(buf, attestationWireVersion)
	buf = binary.BigEndian.AppendUint64(buf, a.BlockNumber)
	buf = append(buf, a.BlockHash.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(a.Proof)))
	buf = append(buf, a.Proof...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(a.Signature)))
	buf = append(buf, a.Signature...)
	buf = append(buf, a.Signer.Bytes()...)
	return buf
}

// Hash identifies the attestation; it is used as slashing evidence reference.
func (a *BlockAttestation) Hash() common.Hash {
	return crypto.Keccak256Hash(a.Marshal())
}

// UnmarshalAttestation decodes the wire form produced by Marshal. Trailing
// bytes and oversized fields are rejected.
func UnmarshalAttestation(bz []byte) (*BlockAttestation, error) {
	r := wireReader{buf: bz}

	version, err := r.next(1)
	if err != nil {
		return nil, err
	}
	if version[0] != attestationWireVersion {
		return nil, fmt.Errorf("unknown attestation version %d", version[0])
	}

	var a BlockAttestation
	num, err := r.next(8)
	if err != nil {
		return nil, err
	}
	a.BlockNumber = binary.BigEndian.Uint64(num)

	hash, err := r.next(common.HashLength)
	if err != nil {
		return nil, err
	}
	a.BlockHash = common.BytesToHash(hash)

	if a.Proof, err = r.lengthPrefixed(MaxProofSize); err != nil {
		return nil, fmt.Errorf("proof: %w", err)
	}
	// the signature length is checked by verification so that a wrong
	// length surfaces as a malformed signature, not as a decoding error
	if a.Signature, err = r.lengthPrefixed(2 * SignatureLength); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	signer, err := r.next(common.AddressLength)
	if err != nil {
		return nil, err
	}
	a.Signer = common.BytesToAddress(signer)

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after attestation", r.remaining())
	}
	return &a, nil
}

// MarshalJSON encodes the wire form as a 0x-prefixed hex string.
func (a *BlockAttestation) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.Bytes(a.Marshal()))
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (a *BlockAttestation) UnmarshalJSON(data []byte) error {
	var bz hexutil.Bytes
	if err := json.Unmarshal(data, &bz); err != nil {
		return err
	}
	dec, err := UnmarshalAttestation(bz)
	if err != nil {
		return err
	}
	*a = *dec
	return nil
}

func (a *BlockAttestation) String() string {
	if a == nil {
		return "nil-BlockAttestation"
	}
	return fmt.Sprintf("Attestation{#%d %v signer:%v proof:%dB}",
		a.BlockNumber, a.BlockHash, a.Signer, len(a.Proof))
}

type wireReader struct {
	buf []byte
	off int
}

func (r *wireReader) next(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("unexpected end of input at offset %d (want %d bytes)", r.off, n)
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return common.CopyBytes(out), nil
}

func (r *wireReader) lengthPrefixed(max int) ([]byte, error) {
	lbz, err := r.next(4)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lbz)
	if uint64(n) > uint64(max) {
		return nil, fmt.Errorf("length %d exceeds limit %d", n, max)
	}
	return r.next(int(n))
}

func (r *wireReader) remaining() int { return len(r.buf) - r.off }

package webapi

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"github.com/google/uuid"
)

// maxRandomBytes is the getRandomValues quota from the Web Crypto spec.
const maxRandomBytes = 65536

// cryptoJS wires crypto.getRandomValues, crypto.randomUUID and
// crypto.subtle.digest to Go.
const cryptoJS = `
(function() {
	function bytesOf(data) {
		var b = __toBytes(data);
		if (b) return b;
		if (typeof data === 'string') return __utf8Encode(data);
		throw new TypeError('data must be a BufferSource');
	}

	var crypto = {};
	crypto.getRandomValues = function(arr) {
		if (!arr || !ArrayBuffer.isView(arr) || arr instanceof Float32Array || arr instanceof Float64Array) {
			throw new TypeError('getRandomValues requires an integer TypedArray');
		}
		var raw = __b64ToArray(__cryptoRandomBytes(arr.byteLength));
		var view = new Uint8Array(arr.buffer, arr.byteOffset, arr.byteLength);
		for (var i = 0; i < raw.length; i++) view[i] = raw[i];
		return arr;
	};
	crypto.randomUUID = function() { return __cryptoRandomUUID(); };

	var subtle = {};
	subtle.digest = function(algorithm, data) {
		return new Promise(function(resolve) {
			var name = typeof algorithm === 'string' ? algorithm : algorithm && algorithm.name;
			var out = __b64ToArray(__cryptoDigest(String(name), __arrayToB64(bytesOf(data))));
			resolve(new Uint8Array(out).buffer);
		}).catch(function(e) {
			var err = new Error(__hostErr(e));
			err.name = 'NotSupportedError';
			throw err;
		});
	};
	crypto.subtle = subtle;

	globalThis.crypto = crypto;
})();
`

func digestHash(algo string) (hash.Hash, error) {
	switch strings.ToUpper(algo) {
	case "SHA-1":
		return sha1.New(), nil
	case "SHA-256":
		return sha256.New(), nil
	case "SHA-384":
		return sha512.New384(), nil
	case "SHA-512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
}

// SetupCrypto installs the crypto global.
func SetupCrypto(mc *ModuleCtx) error {
	if err := mc.RT.RegisterFunc("__cryptoRandomBytes", func(n int) (string, error) {
		if n < 0 || n > maxRandomBytes {
			return "", fmt.Errorf("getRandomValues: byte length %d exceeds %d", n, maxRandomBytes)
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(buf), nil
	}); err != nil {
		return err
	}

	if err := mc.RT.RegisterFunc("__cryptoRandomUUID", func() string {
		return uuid.NewString()
	}); err != nil {
		return err
	}

	if err := mc.RT.RegisterFunc("__cryptoDigest", func(algo, dataB64 string) (string, error) {
		h, err := digestHash(algo)
		if err != nil {
			return "", err
		}
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return "", fmt.Errorf("decoding digest input: %w", err)
		}
		h.Write(data)
		return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
	}); err != nil {
		return err
	}

	if err := mc.RT.Eval(cryptoJS); err != nil {
		return fmt.Errorf("evaluating crypto.js: %w", err)
	}
	return nil
}

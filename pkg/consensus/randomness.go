// Package consensus 的随机选择工具
//
// Randomness 功能:
//   - 随机 nonce: 生成十六进制随机串，用作临时挑战
//   - offset 抽样: 从 [0, population) 中无放回均匀抽取
//   - CID 抽样: 从已钉 CID 列表中随机选取子集
//
// 注意事项:
//   - 抽样数量超过总体是调用方错误，返回显式 error 而不是静默截断
//   - nonce 使用 crypto/rand；抽样使用 math/rand 即可（不承载安全属性）
package consensus

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
)

const (
	// 每轮挑战抽样的 offset 数量范围
	MinChallengeOffsets = 3
	MaxChallengeOffsets = 6
)

// PickRandomNonce 生成 numBytes 字节的随机数并返回其十六进制表示
func PickRandomNonce(numBytes int) (string, error) {
	if numBytes <= 0 {
		numBytes = 16
	}
	buf := make([]byte, numBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SampleOffsets 从 [0, population) 中无放回均匀抽取 count 个下标。
// count 等于总体时返回全部元素各一次；超过总体返回错误。
func SampleOffsets(population, count int) ([]int, error) {
	if population < 0 || count < 0 {
		return nil, fmt.Errorf("invalid sample request: population=%d count=%d", population, count)
	}
	if count > population {
		return nil, fmt.Errorf("sample count %d exceeds population %d", count, population)
	}
	if count == 0 {
		return []int{}, nil
	}
	// Fisher-Yates 洗牌后取前 count 个
	return mrand.Perm(population)[:count], nil
}

// SelectRandomCIDs 从 CID 列表中随机选取 count 个不同的 CID
func SelectRandomCIDs(allCIDs []string, count int) ([]string, error) {
	indices, err := SampleOffsets(len(allCIDs), count)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, count)
	for _, i := range indices {
		out = append(out, allCIDs[i])
	}
	return out, nil
}

// challengeCount 随机选取本轮抽样数量，收缩到可用块数以内。
// 块数不足 MinChallengeOffsets 时对小文件全量抽样。
func challengeCount(totalChunks int) int {
	count := MinChallengeOffsets + mrand.Intn(MaxChallengeOffsets-MinChallengeOffsets+1)
	if count > totalChunks {
		count = totalChunks
	}
	return count
}

package format

const (
	mib = 1024 * 1024
	gib = 1024 * mib
)

// SectorsPerCluster picks the cluster size breakpoint table for the given
// variant and partition size in bytes, matching the well-known Microsoft
// defaults for mkfs-style tools.
func SectorsPerCluster(variant int, partitionSizeBytes uint64, sectorSize uint) uint {
	switch variant {
	case 32:
		switch {
		case partitionSizeBytes < 8*gib:
			return 8
		case partitionSizeBytes < 16*gib:
			return 16
		case partitionSizeBytes < 32*gib:
			return 32
		default:
			return 64
		}
	default: // 12, 16
		switch {
		case partitionSizeBytes < 128*mib:
			return 4
		case partitionSizeBytes < 256*mib:
			return 8
		case partitionSizeBytes < 512*mib:
			return 16
		case partitionSizeBytes < 1*gib:
			return 32
		default:
			return 64
		}
	}
}

// fatSizeSectors computes the number of sectors one FAT copy needs, growing
// by one sector at a time until the highest cluster's byte offset fits --
// the iterative fixed point the boot record's own FirstDataSector depends on.
func fatSizeSectors(variant int, totalSectors, reservedSectors, numFATs, rootDirSectors, sectorsPerCluster, sectorSize uint) uint {
	bitsPerCell := uint(16)
	switch variant {
	case 12:
		bitsPerCell = 12
	case 32:
		bitsPerCell = 32
	}

	size := uint(1)
	for {
		firstDataSector := reservedSectors + numFATs*size + rootDirSectors
		if firstDataSector >= totalSectors {
			return size
		}
		totalClusters := (totalSectors - firstDataSector) / sectorsPerCluster
		neededBytes := (bitsPerCell*totalClusters + 7) / 8
		neededSectors := (neededBytes + sectorSize - 1) / sectorSize
		if neededSectors == 0 {
			neededSectors = 1
		}
		if neededSectors <= size {
			return size
		}
		size++
	}
}
